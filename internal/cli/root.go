// Package cli provides the phpcsfixer-formatter command line.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/executor"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/logging"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/utils"
)

// ErrNeedsFixing is returned by the check command when some file is not clean.
var ErrNeedsFixing = errors.New("some files need fixing")

type app struct {
	project   string
	settings  string
	overrides []string
	debug     bool
	logLevel  string
	noColor   bool

	resolver *resolver.Resolver
	runner   executor.CommandRunner
}

// Option configures the command line.
type Option func(*app)

// WithRunner swaps how php-cs-fixer processes are run.
func WithRunner(runner executor.CommandRunner) Option {
	return func(a *app) { a.runner = runner }
}

// WithResolver swaps the resolver used by file commands.
func WithResolver(r *resolver.Resolver) Option {
	return func(a *app) { a.resolver = r }
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}
	if a.resolver == nil {
		a.resolver = resolver.New()
	}
	if a.runner == nil {
		a.runner = executor.NewExecRunner()
	}

	root := &cobra.Command{
		Use:   config.Name,
		Short: "php-cs-fixer integration for editors and the command line",
		Long: `phpcsfixer-formatter resolves layered settings into a php-cs-fixer
invocation and runs it, either as a language server ('serve') or directly
on files ('fix', 'check').`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.project, "project", "", "Project root (default: nearest directory with composer.json or .git)")
	flags.StringVar(&a.settings, "settings", "", "Global settings file (default: user config dir)")
	flags.StringArrayVar(&a.overrides, "set", nil, "Override a setting, as key=value (repeatable)")
	flags.BoolVar(&a.debug, "debug", false, "Run php-cs-fixer with -vvv and log at debug level")
	flags.StringVar(&a.logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	root.SetGlobalNormalizationFunc(normalizeFlagName)

	root.SetVersionTemplate(fmt.Sprintf("%s %s\n", config.Name, config.Version))

	root.AddCommand(a.newServeCommand())
	root.AddCommand(a.newFixCommand())
	root.AddCommand(a.newCheckCommand())
	root.AddCommand(a.newCommandCommand())
	root.AddCommand(a.newConfigCommand())

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, ErrNeedsFixing) {
			fmt.Fprintf(root.ErrOrStderr(), "%s %v\n", failureColor.Sprint("Error:"), err)
		}
		return ExitCode(err)
	}

	return 0
}

// ExitCode maps a command error to a process exit code. Files needing fixes exit
// with php-cs-fixer's own status for that case.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNeedsFixing):
		return fixer.ExitNeedsFixing
	default:
		return 1
	}
}

// normalizeFlagName lets --log_level and --log-level mean the same flag.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func (a *app) setup() {
	if a.noColor {
		color.NoColor = true
	}

	level := logging.ParseLevel(a.logLevel)
	if a.debug {
		level = logging.DebugLevel
	}
	logging.Init(logging.Config{Level: level, Output: os.Stderr})
}

// allOverrides is the per-invocation settings layer: --set values, then --debug.
func (a *app) allOverrides() []string {
	overrides := append([]string(nil), a.overrides...)
	if a.debug {
		overrides = append(overrides, config.KeyDebug+"=true")
	}

	return overrides
}

func (a *app) newFixer() *fixer.PhpCsFixer {
	return fixer.NewPhpCsFixer(a.resolver, a.runner)
}

// resolve builds the effective configuration for file, or for the project when file is "".
func (a *app) resolve(file string) (*resolver.EffectiveConfig, resolver.InvocationContext, error) {
	logger := logging.For(logging.TagCLI)

	var filePath string
	if file != "" {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, resolver.InvocationContext{}, fmt.Errorf("invalid file %q: %w", file, err)
		}
		filePath = abs
	}

	root, err := a.projectRoot(filePath)
	if err != nil {
		return nil, resolver.InvocationContext{}, err
	}

	sources, err := config.LoadSources(root, a.settings)
	if err != nil {
		return nil, resolver.InvocationContext{}, err
	}
	if err := sources.AddOverrides(a.allOverrides()); err != nil {
		return nil, resolver.InvocationContext{}, err
	}

	ictx := resolver.NewInvocationContext(filePath, root)
	logger.Debug().
		Str("file", ictx.FilePath).
		Str("project_root", ictx.ProjectRoot).
		Str("global_settings", sources.GlobalPath).
		Str("project_settings", sources.ProjectPath).
		Msg("Resolving configuration")

	return a.resolver.Resolve(sources.Layers(), ictx), ictx, nil
}

func (a *app) projectRoot(filePath string) (string, error) {
	if a.project != "" {
		return filepath.Abs(a.project)
	}

	if filePath != "" {
		return utils.FindProjectRoot(filePath), nil
	}

	return os.Getwd()
}
