// Package board is the synchronization core of the live question/answer
// board: it keeps a materialized question list and the answers of exactly one
// selected question consistent with the document store, and owns all
// create/update/delete operations including the cascading question delete.
package board

import (
	"fmt"

	"liveboard/api/internal/docstore"
)

type Question struct {
	ID         string              `json:"id"`
	Text       string              `json:"text"`
	AuthorID   string              `json:"authorId"`
	AuthorName string              `json:"authorName"`
	CreatedAt  docstore.Timestamp  `json:"createdAt"`
	// AnswerCount is live only while the question is selected; for other
	// questions it is the last observed value, which may be stale or zero.
	AnswerCount int `json:"answerCount"`
}

type Answer struct {
	ID         string             `json:"id"`
	QuestionID string             `json:"questionId"`
	Text       string             `json:"text"`
	AuthorID   string             `json:"authorId"`
	AuthorName string             `json:"authorName"`
	CreatedAt  docstore.Timestamp `json:"createdAt"`
}

// SelectedQuestion is the single opened question with its live answer list.
type SelectedQuestion struct {
	Question
	Answers []Answer `json:"answers"`
}

// Paths maps the board onto document store collection paths:
// boards/{appID}/questions and boards/{appID}/questions/{id}/answers.
type Paths struct {
	root string
}

func NewPaths(appID string) Paths {
	return Paths{root: "boards/" + appID}
}

func (p Paths) Questions() string {
	return p.root + "/questions"
}

func (p Paths) Answers(questionID string) string {
	return fmt.Sprintf("%s/questions/%s/answers", p.root, questionID)
}

// QuestionsFromDocuments converts a one-shot collection read into questions,
// for callers that want the list without a live subscription.
func QuestionsFromDocuments(docs []docstore.Document) []Question {
	questions := make([]Question, 0, len(docs))
	for _, doc := range docs {
		questions = append(questions, questionFromDocument(doc))
	}
	return questions
}

// AnswersFromDocuments converts a one-shot answer collection read.
func AnswersFromDocuments(docs []docstore.Document, questionID string) []Answer {
	answers := make([]Answer, 0, len(docs))
	for _, doc := range docs {
		answers = append(answers, answerFromDocument(doc, questionID))
	}
	return answers
}

func questionFromDocument(doc docstore.Document) Question {
	return Question{
		ID:         doc.ID,
		Text:       doc.Fields[docstore.FieldText],
		AuthorID:   doc.Fields[docstore.FieldAuthorID],
		AuthorName: doc.Fields[docstore.FieldAuthorName],
		CreatedAt:  doc.CreatedAt,
	}
}

func answerFromDocument(doc docstore.Document, questionID string) Answer {
	return Answer{
		ID:         doc.ID,
		QuestionID: questionID,
		Text:       doc.Fields[docstore.FieldText],
		AuthorID:   doc.Fields[docstore.FieldAuthorID],
		AuthorName: doc.Fields[docstore.FieldAuthorName],
		CreatedAt:  doc.CreatedAt,
	}
}
