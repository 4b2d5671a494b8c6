package export

import "fmt"

// Service renders question threads for export.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// ExportThreadPDF renders the thread to HTML and converts it to PDF.
func (s *Service) ExportThreadPDF(thread Thread) (*Result, error) {
	html, err := RenderThreadHTML(thread)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return exportPDF(html, thread.Text)
}
