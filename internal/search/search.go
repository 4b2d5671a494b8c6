// Package search provides full-text search over the board's questions, via
// Meilisearch when configured and PostgreSQL FTS otherwise.
package search

// Result is a single question hit.
type Result struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Snippet    string `json:"snippet"`
	AuthorName string `json:"authorName"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// QuestionRecord is the data we index for a question.
type QuestionRecord struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AuthorName string `json:"authorName"`
}
