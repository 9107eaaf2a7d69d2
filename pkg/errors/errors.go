// Package errors defines the sentinel errors shared by the indexer, the
// retriever and the API layer, plus typed errors that carry context and
// still match their sentinel through errors.Is.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrConsistencyViolation = errors.New("lexicon consistency violation")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternal             = errors.New("internal error")
	ErrTimeout              = errors.New("operation timed out")
	ErrUnavailable          = errors.New("dependency unavailable")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// ValidationError holds per-field validation failure messages. It matches
// ErrValidation.
type ValidationError struct {
	Entity string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	if e.Entity == "" {
		return strings.Join(parts, "; ")
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validation returns a *ValidationError when fields is non-empty, nil otherwise.
func Validation(entity string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Entity: entity, Fields: fields}
}

// ConsistencyError reports a (document, term) pairing that already exists
// where the insert path requires it to be absent. It matches
// ErrConsistencyViolation.
type ConsistencyError struct {
	DocumentID int64
	TermID     int64
	Term       string
	RowID      int64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("duplicate document lexicon row %d for document %d and term %q (term id %d)",
		e.RowID, e.DocumentID, e.Term, e.TermID)
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistencyViolation
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
