package fixer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

var reportFlags = []string{"--dry-run", "--diff", "--format=json"}

var (
	hunkHeaderPattern     = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)
	describeHeaderPattern = regexp.MustCompile(`Description of the .* rule\.`)
	describeTailPattern   = regexp.MustCompile(`(?s)(Fixer is configurable|Fixer applying|Fixing examples).*`)
)

// FileReport is one entry of the php-cs-fixer JSON report.
type FileReport struct {
	Name          string   `json:"name"`
	Diff          string   `json:"diff"`
	AppliedFixers []string `json:"appliedFixers"`

	// Ranges are the lines of the original file the diff touches.
	Ranges []protocol.Range `json:"-"`
}

// Report is the result of a dry run.
type Report struct {
	*Outcome
	NeedsFixing bool
	Files       []FileReport
}

type jsonReport struct {
	Files []FileReport `json:"files"`
}

// Check runs php-cs-fixer in dry-run mode with a JSON report and leaves the file untouched.
func (f *PhpCsFixer) Check(ctx context.Context, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext) (*Report, error) {
	runID := newRunID()
	logger := runLogger(runID, ictx)

	if err := f.resolver.Validate(cfg, ictx); err != nil {
		logger.Warn().Err(err).Msg("Configuration is not valid")
		return nil, err
	}

	cmd, err := f.resolver.BuildCommand(cfg, ictx)
	if err != nil {
		return nil, err
	}

	target := cmd.Args[len(cmd.Args)-1]
	args := resolver.FilterVerbosity(cmd.Args[:len(cmd.Args)-1])
	args = slices.DeleteFunc(args, func(arg string) bool {
		return slices.Contains(reportFlags, arg)
	})
	cmd.Args = append(append(args, reportFlags...), "-v", target)

	outcome, err := f.execute(ctx, logger, runID, cfg, cmd, ExitNeedsFixing)
	if err != nil {
		return nil, err
	}

	report := &Report{Outcome: outcome, NeedsFixing: outcome.ExitCode == ExitNeedsFixing}
	if strings.TrimSpace(outcome.Stdout) == "" {
		return report, nil
	}

	var parsed jsonReport
	if err := json.Unmarshal([]byte(outcome.Stdout), &parsed); err != nil {
		logger.Warn().Err(err).Msg("Could not parse php-cs-fixer report")
		return report, fmt.Errorf("could not parse php-cs-fixer report: %w", err)
	}

	for _, file := range parsed.Files {
		file.Ranges = ChangedRanges(file.Diff)
		report.Files = append(report.Files, file)
	}
	if len(report.Files) > 0 {
		report.NeedsFixing = true
	}

	return report, nil
}

// Describe returns the description php-cs-fixer gives for a rule, without examples.
// Descriptions are cached per rule name.
func (f *PhpCsFixer) Describe(ctx context.Context, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext, rule string) (string, error) {
	if cached, ok := f.ruleDescriptions.Load(rule); ok {
		return cached.(string), nil
	}

	runID := newRunID()
	logger := runLogger(runID, ictx)

	invocation, err := f.resolver.Invocation(cfg, ictx)
	if err != nil {
		return "", err
	}

	cmd := resolver.Command{
		Args: append(invocation, "describe", rule),
		Dir:  f.resolver.WorkingDir(ictx),
	}

	outcome, err := f.execute(ctx, logger, runID, cfg, cmd)
	if err != nil {
		return "", err
	}

	description := strings.TrimSpace(outcome.Stdout)
	description = describeHeaderPattern.ReplaceAllString(description, "")
	description = strings.TrimSpace(describeTailPattern.ReplaceAllString(description, ""))

	f.ruleDescriptions.Store(rule, description)

	return description, nil
}

// ChangedRanges maps a unified diff onto ranges of the original text. Removed lines
// are covered in full; lines only added get an empty range where they are inserted.
func ChangedRanges(diff string) []protocol.Range {
	var ranges []protocol.Range

	originalLine := 0
	removedInBlock := false

	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}

		if strings.HasPrefix(line, "@@") {
			if matches := hunkHeaderPattern.FindStringSubmatch(line); matches != nil {
				if start, err := strconv.Atoi(matches[1]); err == nil && start > 0 {
					originalLine = start - 1
				}
			}
			removedInBlock = false
			continue
		}

		if line == "" {
			continue
		}

		switch line[0] {
		case '-':
			removed := strings.TrimPrefix(line, "-")
			ranges = append(ranges, protocol.Range{
				Start: protocol.Position{Line: uint32(originalLine), Character: 0},
				End:   protocol.Position{Line: uint32(originalLine), Character: uint32(len(utf16.Encode([]rune(removed))))},
			})
			removedInBlock = true
			originalLine++
		case '+':
			// Added lines replacing removed ones are already covered by the removed range.
			if !removedInBlock {
				ranges = append(ranges, protocol.Range{
					Start: protocol.Position{Line: uint32(originalLine), Character: 0},
					End:   protocol.Position{Line: uint32(originalLine), Character: 0},
				})
			}
		case ' ':
			removedInBlock = false
			originalLine++
		}
	}

	return ranges
}
