// Package resolver turns layered settings into an effective php-cs-fixer configuration
// and synthesizes the command line that runs it.
package resolver

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
)

// EffectiveConfig is the merged, platform-resolved configuration for one invocation.
type EffectiveConfig struct {
	InterpreterPath        string            `json:"interpreterPath,omitempty" yaml:"interpreter_path,omitempty"`
	ToolPath               string            `json:"toolPath,omitempty" yaml:"tool_path,omitempty"`
	LocalToolPath          string            `json:"localToolPath,omitempty" yaml:"local_tool_path,omitempty"`
	ConfigPath             string            `json:"configPath,omitempty" yaml:"config_path,omitempty"`
	ExtraArgs              []string          `json:"extraArgs" yaml:"extra_args"`
	FormatOnSave           bool              `json:"formatOnSave" yaml:"format_on_save"`
	FormatOnSaveExtensions []string          `json:"formatOnSaveExtensions" yaml:"format_on_save_extensions"`
	Debug                  bool              `json:"debug" yaml:"debug"`
	Diagnostics            bool              `json:"diagnostics" yaml:"diagnostics"`
	Env                    map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	DotenvPath             string            `json:"dotenvPath,omitempty" yaml:"dotenv_path,omitempty"`
	Platform               Platform          `json:"platform" yaml:"platform"`

	// Keys the path values were read from, used to name the culprit in validation errors.
	InterpreterKey string `json:"-" yaml:"-"`
	ToolKey        string `json:"-" yaml:"-"`
	LocalToolKey   string `json:"-" yaml:"-"`

	// Settings holds every flattened key after expansion and normalization.
	Settings map[string]any `json:"settings" yaml:"settings"`
}

// Resolver merges settings and checks them against a filesystem.
type Resolver struct {
	fs       afero.Fs
	getwd    func() (string, error)
	lookPath func(string) (string, error)
	homeDir  func() (string, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFs swaps the filesystem used for existence checks and the local tool search.
func WithFs(fs afero.Fs) Option {
	return func(r *Resolver) { r.fs = fs }
}

// WithGetwd swaps the process working directory lookup.
func WithGetwd(getwd func() (string, error)) Option {
	return func(r *Resolver) { r.getwd = getwd }
}

// WithLookPath swaps the $PATH lookup used for bare executable names.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(r *Resolver) { r.lookPath = lookPath }
}

// WithHomeDir swaps the home directory used for "~" expansion.
func WithHomeDir(homeDir func() (string, error)) Option {
	return func(r *Resolver) { r.homeDir = homeDir }
}

// New creates a resolver backed by the OS filesystem.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		fs:       afero.NewOsFs(),
		getwd:    os.Getwd,
		lookPath: exec.LookPath,
		homeDir:  os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Keys whose bare values ("php") are looked up on $PATH before being treated as relative paths.
var executableKeys = []string{config.KeyPhpPath, config.KeyPhpCsFixerPath}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Resolve merges the layers (lowest precedence first) and resolves them against ictx.
func (r *Resolver) Resolve(layers []map[string]any, ictx InvocationContext) *EffectiveConfig {
	vars := ictx.Variables()
	base := ictx.ProjectRoot
	if base == "" {
		if cwd, err := r.getwd(); err == nil {
			base = cwd
		}
	}

	settings := Merge(layers...).transform(func(key string, value any) any {
		switch v := value.(type) {
		case string:
			expanded := expandVariables(v, vars)
			if isPathKey(key) {
				return r.normalizeSetting(key, expanded, base)
			}
			return expanded
		case []any:
			expanded := make([]any, len(v))
			for i, item := range v {
				if str, ok := item.(string); ok {
					expanded[i] = expandVariables(str, vars)
				} else {
					expanded[i] = item
				}
			}
			return expanded
		default:
			return value
		}
	})

	p := ictx.Platform
	interpreter := settings.Lookup(config.KeyPhpPath, p)
	tool := settings.Lookup(config.KeyPhpCsFixerPath, p)
	localTool := settings.Lookup(config.KeyLocalPhpCsFixerPath, p)

	return &EffectiveConfig{
		InterpreterPath:        interpreter.ForPlatform(p),
		ToolPath:               tool.ForPlatform(p),
		LocalToolPath:          localTool.ForPlatform(p),
		ConfigPath:             settings.Lookup(config.KeyConfigPath, p).ForPlatform(p),
		ExtraArgs:              settings.Strings(config.KeyExtraArgs),
		FormatOnSave:           settings.Bool(config.KeyFormatOnSave),
		FormatOnSaveExtensions: normalizeExtensions(settings.Strings(config.KeyFormatOnSaveExtensions)),
		Debug:                  settings.Bool(config.KeyDebug),
		Diagnostics:            settings.Bool(config.KeyDiagnostics),
		Env:                    settings.StringMap(config.KeyEnv),
		DotenvPath:             settings.Lookup(config.KeyDotenvPath, p).ForPlatform(p),
		Platform:               p,
		InterpreterKey:         interpreter.Key,
		ToolKey:                tool.Key,
		LocalToolKey:           localTool.Key,
		Settings:               settings.Map(),
	}
}

// ShouldRun reports whether a save of ictx.FilePath should trigger formatting.
// Files without an extension are matched by their base name.
func (r *Resolver) ShouldRun(cfg *EffectiveConfig, ictx InvocationContext) bool {
	if cfg == nil || !cfg.FormatOnSave || ictx.FilePath == "" {
		return false
	}

	if len(cfg.FormatOnSaveExtensions) == 0 {
		return true
	}

	extension := strings.TrimPrefix(ictx.FileExtension, ".")
	if extension == "" {
		extension = filepath.Base(ictx.FilePath)
	}

	for _, candidate := range cfg.FormatOnSaveExtensions {
		if candidate == extension {
			return true
		}
	}

	return false
}

func isPathKey(key string) bool {
	return strings.Contains(key, "path") && !strings.HasPrefix(key, config.KeyEnv+".")
}

func rootKey(key string) string {
	root, _, _ := strings.Cut(key, ".")
	return root
}

// expandVariables substitutes "${name}", "${name:default}" and "$name" in one pass.
// Unknown names are left as written.
func expandVariables(value string, vars map[string]string) string {
	if !strings.Contains(value, "$") {
		return value
	}

	return placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		name, fallback, hasFallback := groups[1], groups[2], strings.Contains(match, ":")
		if name == "" {
			name = groups[3]
			hasFallback = false
		}

		replacement, known := vars[name]
		if !known {
			if hasFallback {
				return fallback
			}
			return match
		}
		if replacement == "" && hasFallback {
			return fallback
		}

		return replacement
	})
}

// normalizeSetting turns a path setting into an absolute, platform-correct path.
// Local tool paths stay relative to the installation they are found in.
func (r *Resolver) normalizeSetting(key string, value string, base string) string {
	if value == "" {
		return ""
	}

	value = r.expandTilde(value)

	if rootKey(key) == config.KeyLocalPhpCsFixerPath {
		return filepath.Clean(filepath.FromSlash(value))
	}

	if isBareName(value) && isExecutableKey(key) {
		if found, err := r.lookPath(value); err == nil {
			if abs, err := filepath.Abs(found); err == nil {
				return abs
			}
			return found
		}
	}

	value = filepath.FromSlash(value)
	if !filepath.IsAbs(value) && base != "" {
		value = filepath.Join(base, value)
	}

	return filepath.Clean(value)
}

func (r *Resolver) expandTilde(value string) string {
	if value != "~" && !strings.HasPrefix(value, "~/") && !strings.HasPrefix(value, `~\`) {
		return value
	}

	home, err := r.homeDir()
	if err != nil || home == "" {
		return value
	}

	return filepath.Join(home, value[1:])
}

func isBareName(value string) bool {
	return !strings.ContainsAny(value, `/\`)
}

func isExecutableKey(key string) bool {
	root := rootKey(key)
	for _, candidate := range executableKeys {
		if root == candidate {
			return true
		}
	}

	return false
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, 0, len(extensions))
	for _, extension := range extensions {
		extension = strings.TrimPrefix(strings.TrimSpace(extension), ".")
		if extension != "" {
			normalized = append(normalized, extension)
		}
	}

	return normalized
}
