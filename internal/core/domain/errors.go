package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidName  = errors.New("invalid question name")
	ErrInvalidField = errors.New("invalid field")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrInvalidQuestion is returned when a question fails validation. Report holds the
// per-field messages.
type ErrInvalidQuestion struct {
	Report Report
}

func (e *ErrInvalidQuestion) Error() string {
	return fmt.Sprintf("question %q failed validation: %s", e.Report.QuestionName(), e.Report.String())
}
