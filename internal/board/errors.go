package board

import "fmt"

// Error codes surfaced to the UI. Every board failure is recoverable; the
// code tells the caller how to recover (re-prompt, sign in, retry).
const (
	CodeValidation   = "VALIDATION"
	CodeAuthRequired = "AUTH_REQUIRED"
	CodePermission   = "PERMISSION"
	CodeNoTarget     = "NO_TARGET"
	CodeNotFound     = "NOT_FOUND"
	CodeUpstream     = "UPSTREAM"
	CodeCascade      = "CASCADE"
)

type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func validationError(message string) *DomainError {
	return &DomainError{Code: CodeValidation, Message: message}
}

func authRequiredError(message string) *DomainError {
	return &DomainError{Code: CodeAuthRequired, Message: message}
}

func permissionError(message string) *DomainError {
	return &DomainError{Code: CodePermission, Message: message}
}

func noTargetError(message string) *DomainError {
	return &DomainError{Code: CodeNoTarget, Message: message}
}

func notFoundError(message string) *DomainError {
	return &DomainError{Code: CodeNotFound, Message: message}
}

func upstreamError(message string, err error) *DomainError {
	return &DomainError{Code: CodeUpstream, Message: message, Err: err}
}

// cascadeError reports a partial answer-delete failure. The question is left
// intact with a possibly-reduced answer set; the caller must retry.
func cascadeError(failed, total int, err error) *DomainError {
	return &DomainError{
		Code:    CodeCascade,
		Message: fmt.Sprintf("failed to delete %d of %d answers; the question was not deleted", failed, total),
		Err:     err,
	}
}
