// Package executor runs synthesized command lines as child processes.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/logging"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

// ExitCommandNotFound is the exit status shells use when the program cannot be found.
const ExitCommandNotFound = 127

// ErrToolLaunch reports that the process could not be started.
var ErrToolLaunch = errors.New("failed to launch php-cs-fixer")

// LaunchError carries the program that failed to start.
type LaunchError struct {
	Program  string
	ExitCode int
	Err      error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("%s %q", ErrToolLaunch, e.Program)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.ExitCode != 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	}

	return msg + "; make sure the php interpreter is installed and reachable (try `php -v`)"
}

func (e *LaunchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrToolLaunch}
	}

	return []error{ErrToolLaunch, e.Err}
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// CommandRunner runs one command to completion.
type CommandRunner interface {
	Run(ctx context.Context, cmd resolver.Command, env []string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts cmd in cmd.Dir with env (nil inherits the process environment) and waits for it.
// A non-zero exit is not an error; failing to start, or exit 127, is a *LaunchError.
func (r *ExecRunner) Run(ctx context.Context, cmd resolver.Command, env []string) (*Result, error) {
	logger := logging.For(logging.TagExecutor)

	if len(cmd.Args) == 0 {
		return nil, &LaunchError{Err: errors.New("empty command line")}
	}

	logger.Debug().Strs("args", cmd.Args).Str("dir", cmd.Dir).Msg("Running command")

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = env

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		logger.Debug().Int("exit_code", result.ExitCode).Msg("Command exited with non-zero status")
		if result.ExitCode == ExitCommandNotFound {
			return result, &LaunchError{Program: cmd.Args[0], ExitCode: result.ExitCode}
		}
		return result, nil
	}

	logger.Error().Err(err).Str("program", cmd.Args[0]).Msg("Could not start command")

	return result, &LaunchError{Program: cmd.Args[0], Err: err}
}

// Environ builds the child environment: the process environment, then the
// variables from dotenvPath (when set), then env. Later sources win.
func Environ(env map[string]string, dotenvPath string) ([]string, error) {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, found := strings.Cut(kv, "="); found {
			merged[key] = value
		}
	}

	if dotenvPath != "" {
		fromFile, err := godotenv.Read(dotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", dotenvPath, err)
		}
		for key, value := range fromFile {
			merged[key] = value
		}
	}

	for key, value := range env {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	environ := make([]string, 0, len(keys))
	for _, key := range keys {
		environ = append(environ, key+"="+merged[key])
	}

	return environ, nil
}
