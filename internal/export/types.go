// Package export renders a question thread to HTML and converts it to PDF
// with headless Chrome.
package export

import (
	"errors"
	"time"
)

// Thread is the exportable view of a question with its answers.
type Thread struct {
	QuestionID string
	Text       string
	Author     string
	CreatedAt  time.Time
	BoardName  string
	Answers    []Answer
}

type Answer struct {
	Text      string
	Author    string
	CreatedAt time.Time
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are
// unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
