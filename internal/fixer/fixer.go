// Package fixer runs php-cs-fixer through the resolver and classifies what it did.
package fixer

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/executor"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/logging"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

const (
	ProviderId   string = "phpcsfixer"
	ProviderName string = "php-cs-fixer"

	usingCacheFlag = "--using-cache=no"
	tempDirPrefix  = "phpcsfixer-formatter-"
)

// Status classifies a finished run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusFailure Status = "failure"
)

// Outcome is the result of one php-cs-fixer run.
type Outcome struct {
	RunID    string
	Status   Status
	Command  resolver.Command
	ExitCode int
	Stdout   string
	Stderr   string

	// Formatted is the fixed buffer content; only Format sets it.
	Formatted string
}

// Message is the text worth showing to the user for a non-success outcome.
func (o *Outcome) Message() string {
	if stderr := strings.TrimSpace(o.Stderr); stderr != "" {
		return stderr
	}

	return strings.TrimSpace(o.Stdout)
}

// PhpCsFixer drives php-cs-fixer for single files.
type PhpCsFixer struct {
	resolver *resolver.Resolver
	runner   executor.CommandRunner
	fs       afero.Fs
	environ  func(env map[string]string, dotenvPath string) ([]string, error)

	ruleDescriptions sync.Map
}

// Option configures a PhpCsFixer.
type Option func(*PhpCsFixer)

// WithFs swaps the filesystem used for the temporary copies made by Format.
func WithFs(fs afero.Fs) Option {
	return func(f *PhpCsFixer) { f.fs = fs }
}

// WithEnviron swaps how the child environment is built.
func WithEnviron(environ func(map[string]string, string) ([]string, error)) Option {
	return func(f *PhpCsFixer) { f.environ = environ }
}

func NewPhpCsFixer(r *resolver.Resolver, runner executor.CommandRunner, opts ...Option) *PhpCsFixer {
	f := &PhpCsFixer{
		resolver: r,
		runner:   runner,
		fs:       afero.NewOsFs(),
		environ:  executor.Environ,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *PhpCsFixer) Id() string {
	return ProviderId
}

func (f *PhpCsFixer) Name() string {
	return ProviderName
}

// Fix runs php-cs-fixer on the file on disk. Validation failures abort before any
// process is started.
func (f *PhpCsFixer) Fix(ctx context.Context, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext) (*Outcome, error) {
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

	outcome, err := f.execute(ctx, logger, runID, cfg, cmd)
	if err == nil {
		logger.Info().Str("status", string(outcome.Status)).Msg("Fixed file")
	}

	return outcome, err
}

// Format fixes content as if it were the file in ictx, through a temporary copy, and
// returns the result in Outcome.Formatted. The file on disk is not touched.
func (f *PhpCsFixer) Format(ctx context.Context, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext, content string) (*Outcome, error) {
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

	tmpDir, err := afero.TempDir(f.fs, "", tempDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("could not create temporary directory: %w", err)
	}
	defer func() {
		if err := f.fs.RemoveAll(tmpDir); err != nil {
			logger.Warn().Err(err).Str("dir", tmpDir).Msg("Could not remove temporary directory")
		}
	}()

	tmpFile := filepath.Join(tmpDir, filepath.Base(ictx.FilePath))
	if err := afero.WriteFile(f.fs, tmpFile, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("could not write temporary file: %w", err)
	}
	cmd.Args = retarget(cmd.Args, tmpFile, usingCacheFlag)

	outcome, err := f.execute(ctx, logger, runID, cfg, cmd)
	if err != nil {
		return outcome, err
	}

	formatted, err := afero.ReadFile(f.fs, tmpFile)
	if err != nil {
		return outcome, fmt.Errorf("could not read formatted content: %w", err)
	}
	outcome.Formatted = string(formatted)

	logger.Debug().Bool("changed", outcome.Formatted != content).Msg("Formatted buffer")

	return outcome, nil
}

// execute runs cmd and classifies the result. Exit codes in allowed count as success.
// In debug mode a failure reported by the tool is logged and downgraded to a warning.
func (f *PhpCsFixer) execute(ctx context.Context, logger zerolog.Logger, runID string, cfg *resolver.EffectiveConfig, cmd resolver.Command, allowed ...int) (*Outcome, error) {
	env, err := f.environ(cfg.Env, cfg.DotenvPath)
	if err != nil {
		return nil, err
	}

	logger.Debug().Strs("args", cmd.Args).Str("dir", cmd.Dir).Msg("Running php-cs-fixer")

	result, err := f.runner.Run(ctx, cmd, env)
	if err != nil {
		logger.Error().Err(err).Msg("php-cs-fixer could not be launched")
		return nil, err
	}

	outcome := &Outcome{
		RunID:    runID,
		Command:  cmd,
		ExitCode: result.ExitCode,
		Stdout:   string(result.Stdout),
		Stderr:   string(result.Stderr),
	}

	if cfg.Debug {
		logger.Debug().Str("stdout", outcome.Stdout).Str("stderr", outcome.Stderr).Msg("php-cs-fixer output")
	}

	failed := outcome.ExitCode != 0 && !slices.Contains(allowed, outcome.ExitCode)
	if !failed && strings.TrimSpace(outcome.Stderr) == "" {
		outcome.Status = StatusSuccess
		return outcome, nil
	}

	// Error output counts as a failure even when the exit status does not.
	toolErr := &ToolError{ExitCode: outcome.ExitCode, Stdout: outcome.Stdout, Stderr: outcome.Stderr}
	if cfg.Debug {
		logger.Warn().Err(toolErr).Msg("php-cs-fixer reported an error")
		outcome.Status = StatusWarning
		return outcome, nil
	}

	outcome.Status = StatusFailure
	return outcome, toolErr
}

// retarget replaces the trailing target token with target, preceded by extra.
func retarget(args []string, target string, extra ...string) []string {
	retargeted := make([]string, 0, len(args)+len(extra))
	retargeted = append(retargeted, args[:len(args)-1]...)
	retargeted = append(retargeted, extra...)

	return append(retargeted, target)
}

func newRunID() string {
	return ulid.Make().String()
}

func runLogger(runID string, ictx resolver.InvocationContext) zerolog.Logger {
	return logging.For(logging.TagFixer).With().
		Str("run_id", runID).
		Str("file", ictx.FilePath).
		Logger()
}
