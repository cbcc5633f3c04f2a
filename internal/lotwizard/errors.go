package lotwizard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition = errors.New("invalid wizard transition")
	ErrRowIndex          = errors.New("weightment row index out of range")
	ErrCallInFlight      = errors.New("another request for this lot is still running")
	ErrDiscarded         = errors.New("lot draft was discarded")
)

func invalidTransition(state State, action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, state)
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects the lot detail guards that failed.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, FieldError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + " " + e.Message
	}
	return strings.Join(msgs, "; ")
}
