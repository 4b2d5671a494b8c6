package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var threadTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/thread.html")
	if err != nil {
		// Fallback to the built-in template if the file is missing
		threadTemplate = template.Must(template.New("thread").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	threadTemplate = template.Must(template.New("thread").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderThreadHTML renders the thread template with the provided data.
func RenderThreadHTML(thread Thread) (string, error) {
	var buf bytes.Buffer
	if err := threadTemplate.Execute(&buf, thread); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Text}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .answer { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .answer .meta { margin-bottom: 0.5rem; }
  </style>
</head>
<body>
  <h1>{{.Text}}</h1>
  <div class="meta">{{.BoardName}} | {{.Author}} | {{.CreatedAt.Format "Jan 2, 2006"}}</div>
  {{if .Answers}}
  <h2>Answers ({{len .Answers}})</h2>
  {{range .Answers}}
  <div class="answer">
    <div class="meta">{{.Author}} | {{.CreatedAt.Format "Jan 2, 2006 15:04"}}</div>
    <div>{{.Text}}</div>
  </div>
  {{end}}
  {{else}}
  <p>No answers yet.</p>
  {{end}}
</body>
</html>`
