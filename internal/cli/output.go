package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
)

var (
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	failureColor = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
	ruleColor    = color.New(color.FgCyan)
)

func printOutcome(w io.Writer, file string, outcome *fixer.Outcome) {
	switch outcome.Status {
	case fixer.StatusWarning:
		fmt.Fprintf(w, "%s %s\n", warningColor.Sprint("!"), file)
		printIndented(w, dimColor, outcome.Message())
	default:
		fmt.Fprintf(w, "%s %s\n", successColor.Sprint("✓"), file)
	}
}

func printFailure(w io.Writer, file string, err error) {
	fmt.Fprintf(w, "%s %s\n", failureColor.Sprint("✗"), file)
	printIndented(w, dimColor, err.Error())
}

func printIndented(w io.Writer, c *color.Color, text string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line == "" {
			continue
		}
		fmt.Fprintf(w, "  %s\n", c.Sprint(line))
	}
}
