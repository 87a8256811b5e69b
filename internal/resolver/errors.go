package resolver

import (
	"errors"
	"fmt"
)

var (
	ErrMissingInterpreter = errors.New("php interpreter not found")
	ErrMissingTool        = errors.New("php-cs-fixer not found")
	ErrNoFile             = errors.New("cannot format a buffer that has no file on disk")
)

// Which names the kind of path that failed validation.
type Which string

const (
	WhichInterpreter  Which = "interpreter"
	WhichLocalTool    Which = "local-tool"
	WhichFallbackTool Which = "fallback-tool"
)

// ValidationError names the setting whose path does not exist.
type ValidationError struct {
	Which Which
	Key   string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: setting %q is not configured", e.Unwrap(), e.Key)
	}

	return fmt.Sprintf("%s: setting %q points to %q, which does not exist", e.Unwrap(), e.Key, e.Value)
}

func (e *ValidationError) Unwrap() error {
	if e.Which == WhichInterpreter {
		return ErrMissingInterpreter
	}

	return ErrMissingTool
}
