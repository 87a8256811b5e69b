package fixer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolReported reports that php-cs-fixer ran but signalled a failure.
var ErrToolReported = errors.New("php-cs-fixer reported an error")

// Exit status bits documented by php-cs-fixer.
const (
	ExitGeneralError     = 1
	ExitInvalidSyntax    = 4
	ExitNeedsFixing      = 8
	ExitConfigError      = 16
	ExitFixerConfigError = 32
	ExitException        = 64
)

var exitDescriptions = []struct {
	bit         int
	description string
}{
	{ExitGeneralError, "general error or minimal PHP version not met"},
	{ExitInvalidSyntax, "some files have invalid syntax"},
	{ExitNeedsFixing, "some files need fixing"},
	{ExitConfigError, "configuration error of the application"},
	{ExitFixerConfigError, "configuration error of a fixer"},
	{ExitException, "exception raised within the application"},
}

// ToolError carries what php-cs-fixer printed when it failed.
type ToolError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s (exit status %d", ErrToolReported, e.ExitCode)
	if description := DescribeExitCode(e.ExitCode); description != "" {
		msg += ": " + description
	}
	msg += ")"

	if output := e.Output(); output != "" {
		msg += "\n" + output
	}

	return msg
}

func (e *ToolError) Unwrap() error {
	return ErrToolReported
}

// Output is the tool's own error text, stderr first.
func (e *ToolError) Output() string {
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		return stderr
	}

	return strings.TrimSpace(e.Stdout)
}

// DescribeExitCode explains the bits set in a php-cs-fixer exit status.
func DescribeExitCode(code int) string {
	var descriptions []string
	for _, d := range exitDescriptions {
		if code&d.bit != 0 {
			descriptions = append(descriptions, d.description)
		}
	}

	return strings.Join(descriptions, "; ")
}
