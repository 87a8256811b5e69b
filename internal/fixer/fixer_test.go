package fixer_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/executor"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

type fakeRunner struct {
	calls []resolver.Command
	envs  [][]string
	run   func(cmd resolver.Command) (*executor.Result, error)
}

func (r *fakeRunner) Run(_ context.Context, cmd resolver.Command, env []string) (*executor.Result, error) {
	r.calls = append(r.calls, cmd)
	r.envs = append(r.envs, env)
	if r.run == nil {
		return &executor.Result{}, nil
	}

	return r.run(cmd)
}

type fixture struct {
	fs       afero.Fs
	resolver *resolver.Resolver
	runner   *fakeRunner
	fixer    *fixer.PhpCsFixer
	ictx     resolver.InvocationContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	for _, path := range []string{"/usr/bin/php-cs-fixer", "/proj/src/a.php"} {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte("<?php\n"), 0o755))
	}

	r := resolver.New(
		resolver.WithFs(fs),
		resolver.WithGetwd(func() (string, error) { return "/work", nil }),
		resolver.WithLookPath(func(string) (string, error) { return "", errors.New("not found") }),
	)
	runner := &fakeRunner{}
	f := fixer.NewPhpCsFixer(r, runner,
		fixer.WithFs(fs),
		fixer.WithEnviron(func(env map[string]string, _ string) ([]string, error) {
			environ := []string{"PATH=/usr/bin"}
			for key, value := range env {
				environ = append(environ, key+"="+value)
			}
			return environ, nil
		}),
	)

	ictx := resolver.NewInvocationContext("/proj/src/a.php", "/proj")
	ictx.Platform = resolver.PlatformLinux

	return &fixture{fs: fs, resolver: r, runner: runner, fixer: f, ictx: ictx}
}

func (fx *fixture) config(settings map[string]any) *resolver.EffectiveConfig {
	layers := []map[string]any{config.Defaults(), {"phpcsfixer_path": "/usr/bin/php-cs-fixer"}}
	if settings != nil {
		layers = append(layers, settings)
	}

	return fx.resolver.Resolve(layers, fx.ictx)
}

func TestPhpCsFixer_IdAndName(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, fixer.ProviderId, fx.fixer.Id())
	assert.Equal(t, fixer.ProviderName, fx.fixer.Name())
}

func TestPhpCsFixer_Fix(t *testing.T) {
	tests := []struct {
		name           string
		settings       map[string]any
		result         *executor.Result
		expectedStatus fixer.Status
		expectedErr    error
	}{
		{
			name:           "clean run",
			result:         &executor.Result{},
			expectedStatus: fixer.StatusSuccess,
		},
		{
			name:           "stderr output with a zero exit status is an error",
			result:         &executor.Result{Stderr: []byte("PHP Deprecated: something\n")},
			expectedStatus: fixer.StatusFailure,
			expectedErr:    fixer.ErrToolReported,
		},
		{
			name:           "stderr output in debug mode is a warning",
			settings:       map[string]any{"debug": true},
			result:         &executor.Result{Stderr: []byte("PHP Deprecated: something\n")},
			expectedStatus: fixer.StatusWarning,
		},
		{
			name:           "whitespace on stderr is ignored",
			result:         &executor.Result{Stderr: []byte("\n  \n")},
			expectedStatus: fixer.StatusSuccess,
		},
		{
			name:           "tool failure is an error",
			result:         &executor.Result{ExitCode: 16, Stderr: []byte("Configuration file is invalid\n")},
			expectedStatus: fixer.StatusFailure,
			expectedErr:    fixer.ErrToolReported,
		},
		{
			name:           "tool failure in debug mode is downgraded",
			settings:       map[string]any{"debug": true},
			result:         &executor.Result{ExitCode: 16, Stderr: []byte("Configuration file is invalid\n")},
			expectedStatus: fixer.StatusWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.runner.run = func(resolver.Command) (*executor.Result, error) { return tt.result, nil }

			outcome, err := fx.fixer.Fix(context.Background(), fx.config(tt.settings), fx.ictx)
			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}

			require.NotNil(t, outcome)
			assert.Equal(t, tt.expectedStatus, outcome.Status)
			assert.Len(t, outcome.RunID, 26)
			require.Len(t, fx.runner.calls, 1)
			assert.Equal(t, "/proj", fx.runner.calls[0].Dir)
			assert.Equal(t, "/proj/src/a.php", fx.runner.calls[0].Args[len(fx.runner.calls[0].Args)-1])
		})
	}
}

func TestPhpCsFixer_Fix_ToolErrorCarriesOutput(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(resolver.Command) (*executor.Result, error) {
		return &executor.Result{ExitCode: 20, Stdout: []byte("ignored"), Stderr: []byte("Parse error on line 3\n")}, nil
	}

	_, err := fx.fixer.Fix(context.Background(), fx.config(nil), fx.ictx)

	var toolErr *fixer.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 20, toolErr.ExitCode)
	assert.Equal(t, "Parse error on line 3", toolErr.Output())
	assert.Contains(t, err.Error(), "some files have invalid syntax")
	assert.Contains(t, err.Error(), "configuration error of the application")
}

func TestPhpCsFixer_Fix_ValidationFailureLaunchesNothing(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.fixer.Fix(context.Background(), fx.config(map[string]any{"php_path": "/usr/bin/php"}), fx.ictx)

	assert.ErrorIs(t, err, resolver.ErrMissingInterpreter)
	var validationErr *resolver.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "php_path", validationErr.Key)
	assert.Empty(t, fx.runner.calls)
}

func TestPhpCsFixer_Fix_LaunchFailure(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(cmd resolver.Command) (*executor.Result, error) {
		return &executor.Result{ExitCode: 127}, &executor.LaunchError{Program: cmd.Args[0], ExitCode: 127}
	}

	outcome, err := fx.fixer.Fix(context.Background(), fx.config(nil), fx.ictx)

	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, executor.ErrToolLaunch)
}

func TestPhpCsFixer_Fix_PassesEnvironment(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.fixer.Fix(context.Background(), fx.config(map[string]any{"env": map[string]any{"PHP_CS_FIXER_IGNORE_ENV": "1"}}), fx.ictx)
	require.NoError(t, err)

	require.Len(t, fx.runner.envs, 1)
	assert.Contains(t, fx.runner.envs[0], "PHP_CS_FIXER_IGNORE_ENV=1")
}

func TestPhpCsFixer_Format(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(cmd resolver.Command) (*executor.Result, error) {
		target := cmd.Args[len(cmd.Args)-1]
		return &executor.Result{}, afero.WriteFile(fx.fs, target, []byte("<?php\n\necho 1;\n"), 0o644)
	}

	outcome, err := fx.fixer.Format(context.Background(), fx.config(nil), fx.ictx, "<?php\necho 1 ;")
	require.NoError(t, err)

	assert.Equal(t, "<?php\n\necho 1;\n", outcome.Formatted)
	assert.Equal(t, fixer.StatusSuccess, outcome.Status)

	require.Len(t, fx.runner.calls, 1)
	args := fx.runner.calls[0].Args
	target := args[len(args)-1]
	assert.NotEqual(t, fx.ictx.FilePath, target)
	assert.Equal(t, "a.php", filepath.Base(target))
	assert.Equal(t, "--using-cache=no", args[len(args)-2])
	assert.Equal(t, "-q", args[len(args)-3])

	exists, err := afero.DirExists(fx.fs, filepath.Dir(target))
	require.NoError(t, err)
	assert.False(t, exists, "temporary copy is removed")

	original, err := afero.ReadFile(fx.fs, fx.ictx.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "<?php\n", string(original), "file on disk is untouched")
}

func TestPhpCsFixer_Format_ToolError(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(resolver.Command) (*executor.Result, error) {
		return &executor.Result{ExitCode: 4, Stderr: []byte("syntax error")}, nil
	}

	outcome, err := fx.fixer.Format(context.Background(), fx.config(nil), fx.ictx, "<?php echo")

	assert.ErrorIs(t, err, fixer.ErrToolReported)
	require.NotNil(t, outcome)
	assert.Equal(t, fixer.StatusFailure, outcome.Status)
	assert.Empty(t, outcome.Formatted)
}

func TestPhpCsFixer_Format_NoFile(t *testing.T) {
	fx := newFixture(t)
	fx.ictx = resolver.NewInvocationContext("", "/proj")
	fx.ictx.Platform = resolver.PlatformLinux

	_, err := fx.fixer.Format(context.Background(), fx.config(nil), fx.ictx, "<?php")

	assert.ErrorIs(t, err, resolver.ErrNoFile)
	assert.Empty(t, fx.runner.calls)
}

const jsonReport = `{"files":[{"name":"src/a.php","appliedFixers":["braces_position"],"diff":"--- src/a.php\n+++ src/a.php\n@@ -1,3 +1,4 @@\n <?php\n-function foo(){\n+function foo()\n+{\n }\n"}],"time":{"total":0.012},"memory":14}`

func TestPhpCsFixer_Check(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(resolver.Command) (*executor.Result, error) {
		return &executor.Result{ExitCode: fixer.ExitNeedsFixing, Stdout: []byte(jsonReport)}, nil
	}

	report, err := fx.fixer.Check(context.Background(), fx.config(map[string]any{"extra_args": []any{"--dry-run", "--allow-risky=yes"}}), fx.ictx)
	require.NoError(t, err)

	assert.True(t, report.NeedsFixing)
	assert.Equal(t, fixer.StatusSuccess, report.Status)
	require.Len(t, report.Files, 1)
	assert.Equal(t, "src/a.php", report.Files[0].Name)
	assert.Equal(t, []string{"braces_position"}, report.Files[0].AppliedFixers)
	assert.Equal(t, []protocol.Range{{
		Start: protocol.Position{Line: 1, Character: 0},
		End:   protocol.Position{Line: 1, Character: 15},
	}}, report.Files[0].Ranges)

	require.Len(t, fx.runner.calls, 1)
	assert.Equal(t, []string{
		"/usr/bin/php-cs-fixer", "fix", "--allow-risky=yes",
		"--dry-run", "--diff", "--format=json", "-v", "/proj/src/a.php",
	}, fx.runner.calls[0].Args)
}

func TestPhpCsFixer_Check_Clean(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(resolver.Command) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte(`{"files":[],"time":{"total":0.01},"memory":12}`)}, nil
	}

	report, err := fx.fixer.Check(context.Background(), fx.config(nil), fx.ictx)
	require.NoError(t, err)

	assert.False(t, report.NeedsFixing)
	assert.Empty(t, report.Files)
}

func TestPhpCsFixer_Check_BrokenReport(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(resolver.Command) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte("not json")}, nil
	}

	report, err := fx.fixer.Check(context.Background(), fx.config(nil), fx.ictx)

	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "not json", report.Stdout)
}

func TestPhpCsFixer_Describe(t *testing.T) {
	fx := newFixture(t)
	fx.runner.run = func(resolver.Command) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte("Description of the `single_quote` rule.\n\nConvert double quotes to single quotes for simple strings.\n\nFixer is configurable using following option:\n...")}, nil
	}
	cfg := fx.config(nil)

	for i := 0; i < 2; i++ {
		description, err := fx.fixer.Describe(context.Background(), cfg, fx.ictx, "single_quote")
		require.NoError(t, err)
		assert.Equal(t, "Convert double quotes to single quotes for simple strings.", description)
	}

	require.Len(t, fx.runner.calls, 1, "descriptions are cached")
	assert.Equal(t, []string{"/usr/bin/php-cs-fixer", "describe", "single_quote"}, fx.runner.calls[0].Args)
}

func TestChangedRanges(t *testing.T) {
	tests := []struct {
		name     string
		diff     string
		expected []protocol.Range
	}{
		{
			name:     "empty diff",
			diff:     "",
			expected: nil,
		},
		{
			name: "inserted line",
			diff: "@@ -1,2 +1,3 @@\n <?php\n+\n echo 1;\n",
			expected: []protocol.Range{{
				Start: protocol.Position{Line: 1},
				End:   protocol.Position{Line: 1},
			}},
		},
		{
			name: "changed lines in two hunks",
			diff: "@@ -3 +3 @@\n-$a=1;\n+$a = 1;\n@@ -10,2 +10,2 @@\n $b;\n-echo \"é\" ;\n+echo 'é';\n",
			expected: []protocol.Range{
				{Start: protocol.Position{Line: 2}, End: protocol.Position{Line: 2, Character: 5}},
				{Start: protocol.Position{Line: 10}, End: protocol.Position{Line: 10, Character: 10}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fixer.ChangedRanges(tt.diff))
		})
	}
}

func TestDescribeExitCode(t *testing.T) {
	assert.Equal(t, "some files need fixing", fixer.DescribeExitCode(8))
	assert.Equal(t, "some files have invalid syntax; configuration error of the application", fixer.DescribeExitCode(20))
	assert.Empty(t, fixer.DescribeExitCode(0))
}
