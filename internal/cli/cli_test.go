package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/cli"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/executor"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

const (
	unformatted = "<?php\n$a = array(1, 2);\n"
	formatted   = "<?php\n$a = [1, 2];\n"

	checkReport = `{"files":[{"name":"a.php","diff":"--- a.php\n+++ a.php\n@@ -1,2 +1,2 @@\n <?php\n-$a = array(1, 2);\n+$a = [1, 2];\n","appliedFixers":["array_syntax"]}]}`
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []resolver.Command
	clean bool
}

func (r *fakeRunner) Run(_ context.Context, cmd resolver.Command, _ []string) (*executor.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	switch {
	case slices.Contains(cmd.Args, "describe"):
		return &executor.Result{Stdout: []byte("Description of the `array_syntax` rule.\n\nPHP arrays should be declared using the configured syntax.\n")}, nil
	case slices.Contains(cmd.Args, "--dry-run"):
		if r.clean {
			return &executor.Result{Stdout: []byte(`{"files":[]}`)}, nil
		}
		return &executor.Result{ExitCode: 8, Stdout: []byte(checkReport)}, nil
	}

	target := cmd.Args[len(cmd.Args)-1]
	content, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}

	return &executor.Result{}, os.WriteFile(target, []byte(strings.ReplaceAll(string(content), "array(1, 2)", "[1, 2]")), 0o644)
}

type fixture struct {
	dir     string
	root    string
	tool    string
	phpFile string
	global  string
	runner  *fakeRunner
}

func newFixture(t *testing.T, settings map[string]any) *fixture {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "project")
	tool := filepath.Join(dir, "bin", "php-cs-fixer")
	phpFile := filepath.Join(root, "a.php")

	require.NoError(t, os.MkdirAll(filepath.Dir(tool), 0o755))
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(phpFile, []byte(unformatted), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "composer.json"), []byte("{}"), 0o644))

	projectSettings := map[string]any{config.KeyPhpCsFixerPath: tool}
	for key, value := range settings {
		projectSettings[key] = value
	}
	data, err := json.Marshal(projectSettings)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ProjectSettingsBaseName+".json"), data, 0o644))

	return &fixture{
		dir:     dir,
		root:    root,
		tool:    tool,
		phpFile: phpFile,
		global:  filepath.Join(dir, "global.json"),
		runner:  &fakeRunner{},
	}
}

func (fx *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := cli.NewRootCommand(cli.WithRunner(fx.runner))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color", "--settings", fx.global}, args...))

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func TestFixCommand(t *testing.T) {
	fx := newFixture(t, nil)

	out, err := fx.run(t, "fix", fx.phpFile)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+fx.phpFile)

	content, err := os.ReadFile(fx.phpFile)
	require.NoError(t, err)
	assert.Equal(t, formatted, string(content))

	require.Len(t, fx.runner.calls, 1)
	assert.Equal(t, []string{fx.tool, "fix", "-q", fx.phpFile}, fx.runner.calls[0].Args)
	assert.Equal(t, fx.root, fx.runner.calls[0].Dir)
}

func TestFixCommandDebugFlag(t *testing.T) {
	fx := newFixture(t, map[string]any{config.KeyExtraArgs: []string{"-q", "--allow-risky=yes"}})

	_, err := fx.run(t, "--debug", "fix", fx.phpFile)
	require.NoError(t, err)

	require.Len(t, fx.runner.calls, 1)
	assert.Equal(t, []string{fx.tool, "fix", "--allow-risky=yes", "-vvv", fx.phpFile}, fx.runner.calls[0].Args)
}

func TestFixCommandReportsInvalidSettings(t *testing.T) {
	fx := newFixture(t, map[string]any{config.KeyPhpCsFixerPath: "/nonexistent/php-cs-fixer"})

	out, err := fx.run(t, "fix", fx.phpFile)
	require.Error(t, err)
	assert.Equal(t, 1, cli.ExitCode(err))
	assert.Contains(t, out, "✗ "+fx.phpFile)
	assert.Contains(t, out, config.KeyPhpCsFixerPath)
	assert.Empty(t, fx.runner.calls)
}

func TestCheckCommandNeedsFixing(t *testing.T) {
	fx := newFixture(t, nil)

	out, err := fx.run(t, "check", "--describe", fx.phpFile)
	require.ErrorIs(t, err, cli.ErrNeedsFixing)
	assert.Equal(t, 8, cli.ExitCode(err))

	assert.Contains(t, out, "Array syntax (array_syntax)")
	assert.Contains(t, out, "PHP arrays should be declared")
	assert.Contains(t, out, "line 2")

	content, err := os.ReadFile(fx.phpFile)
	require.NoError(t, err)
	assert.Equal(t, unformatted, string(content))
}

func TestCheckCommandClean(t *testing.T) {
	fx := newFixture(t, nil)
	fx.runner.clean = true

	out, err := fx.run(t, "check", fx.phpFile)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+fx.phpFile)
}

func TestCommandCommandQuotesArguments(t *testing.T) {
	fx := newFixture(t, nil)
	spaced := filepath.Join(fx.root, "my file.php")
	require.NoError(t, os.WriteFile(spaced, []byte(unformatted), 0o644))

	out, err := fx.run(t, "--set", `extra_args=["--rules=@PSR12"]`, "command", spaced)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], fx.tool+" fix "), lines[0])
	assert.Contains(t, lines[0], "PSR12")
	assert.True(t, strings.HasSuffix(lines[0], " -q '"+spaced+"'"), lines[0])
	assert.Equal(t, "# in "+fx.root, lines[1])
	assert.Empty(t, fx.runner.calls)
}

func TestConfigCommand(t *testing.T) {
	fx := newFixture(t, nil)

	t.Run("yaml", func(t *testing.T) {
		out, err := fx.run(t, "config", fx.phpFile)
		require.NoError(t, err)
		assert.Contains(t, out, "tool_path: "+fx.tool)
		assert.Contains(t, out, "format_on_save: true")
	})

	t.Run("json", func(t *testing.T) {
		out, err := fx.run(t, "config", "--format", "json", fx.phpFile)
		require.NoError(t, err)

		var cfg resolver.EffectiveConfig
		require.NoError(t, json.Unmarshal([]byte(out), &cfg))
		assert.Equal(t, fx.tool, cfg.ToolPath)
	})

	t.Run("overrides win", func(t *testing.T) {
		out, err := fx.run(t, "--set", "format_on_save=false", "config", "-f", "json", fx.phpFile)
		require.NoError(t, err)

		var cfg resolver.EffectiveConfig
		require.NoError(t, json.Unmarshal([]byte(out), &cfg))
		assert.False(t, cfg.FormatOnSave)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := fx.run(t, "config", "--format", "xml", fx.phpFile)
		assert.Error(t, err)
	})
}

func TestFlagNamesAcceptUnderscores(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.run(t, "--log_level", "ERROR", "config", fx.phpFile)
	assert.NoError(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, cli.ExitCode(nil))
	assert.Equal(t, 8, cli.ExitCode(fmt.Errorf("wrapped: %w", cli.ErrNeedsFixing)))
	assert.Equal(t, 1, cli.ExitCode(errors.New("boom")))
}

func TestServeAnswersInitialize(t *testing.T) {
	fx := newFixture(t, nil)

	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"file://%s"}}`, fx.root)
	in := strings.NewReader(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body))

	root := cli.NewRootCommand(cli.WithRunner(fx.runner))
	var out bytes.Buffer
	root.SetIn(in)
	root.SetOut(&out)
	root.SetArgs([]string{"--settings", fx.global, "serve", "--stdio"})

	_ = root.ExecuteContext(context.Background())

	assert.Contains(t, out.String(), "Content-Length:")
	assert.Contains(t, out.String(), `"serverInfo"`)
	assert.Contains(t, out.String(), config.Name)
}
