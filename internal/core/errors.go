package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady            = errors.New("no session data loaded")
	ErrBusy                = errors.New("login already in progress")
	ErrLoginRequired       = errors.New("login required")
	ErrNoContract          = errors.New("no contract selected")
	ErrPromptClosed        = errors.New("promise payment prompt is not open")
	ErrSelectionOutOfRange = errors.New("selection out of range")
	ErrStaleLoad           = errors.New("load superseded by a newer one")
)

// ValidationError is rejected input that never reached the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
