package board

import (
	"context"
	"strings"

	"liveboard/api/internal/docstore"
	"liveboard/api/internal/identity"
)

// Answers owns answer writes, always scoped to the currently selected
// question. Single answer deletes have no cascade.
type Answers struct {
	store  docstore.Store
	paths  Paths
	target func() (string, bool)
	lookup func(answerID string) (Answer, bool)
}

func (a *Answers) Post(ctx context.Context, text string, ident *identity.Identity) (Answer, error) {
	text = strings.TrimSpace(text)
	if ident == nil {
		return Answer{}, authRequiredError("Sign in to post an answer.")
	}
	if text == "" {
		return Answer{}, validationError("Answer text is required.")
	}
	questionID, ok := a.target()
	if !ok {
		return Answer{}, noTargetError("Select a question to answer first.")
	}

	doc, err := a.store.Create(ctx, a.paths.Answers(questionID), map[string]string{
		docstore.FieldText:       text,
		docstore.FieldAuthorID:   ident.ID,
		docstore.FieldAuthorName: ident.Label(),
	})
	if err != nil {
		return Answer{}, upstreamError("Failed to post the answer.", err)
	}
	return answerFromDocument(doc, questionID), nil
}

func (a *Answers) Update(ctx context.Context, answerID, newText string, ident *identity.Identity) error {
	newText = strings.TrimSpace(newText)
	if ident == nil {
		return authRequiredError("Sign in to edit an answer.")
	}
	if newText == "" {
		return validationError("Answer text is required.")
	}
	questionID, ok := a.target()
	if !ok {
		return noTargetError("Select a question first.")
	}

	cached, ok := a.lookup(answerID)
	if !ok {
		return notFoundError("Answer not found.")
	}
	if cached.AuthorID != ident.ID {
		return permissionError("Only the author can edit this answer.")
	}

	err := a.store.Update(ctx, a.paths.Answers(questionID), answerID, map[string]string{
		docstore.FieldText: newText,
	})
	if err != nil {
		return upstreamError("Failed to update the answer.", err)
	}
	return nil
}

func (a *Answers) Delete(ctx context.Context, answerID string, ident *identity.Identity) error {
	if ident == nil {
		return authRequiredError("Sign in to delete an answer.")
	}
	questionID, ok := a.target()
	if !ok {
		return noTargetError("Select a question first.")
	}

	cached, ok := a.lookup(answerID)
	if !ok {
		return notFoundError("Answer not found.")
	}
	if cached.AuthorID != ident.ID {
		return permissionError("Only the author can delete this answer.")
	}

	if err := a.store.Delete(ctx, a.paths.Answers(questionID), answerID); err != nil {
		return upstreamError("Failed to delete the answer.", err)
	}
	return nil
}
