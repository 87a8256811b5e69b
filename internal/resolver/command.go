package resolver

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// LocalToolMarkers are globbed in every directory walking up from the target file;
// the first directory with a match is the local installation root.
var LocalToolMarkers = []string{
	"vendor/*/php-cs-fixer",
	"vendor/php-cs-fixer",
}

// ConventionalConfigFiles are looked up under the project root when no explicit
// config file is configured.
var ConventionalConfigFiles = []string{
	".php-cs-fixer.php",
	".php-cs-fixer.dist.php",
}

var nativeExtensions = map[string]bool{".exe": true, ".bat": true, ".cmd": true, ".com": true}

var (
	quietFlags   = map[string]bool{"-q": true, "--quiet": true}
	verboseFlags = map[string]bool{"-v": true, "-vv": true, "-vvv": true, "--verbose": true}
)

const (
	fixSubcommand = "fix"
	configFlag    = "--config"
	quietFlag     = "-q"
	debugFlag     = "-vvv"
)

// Command is a synthesized command line and the directory to run it in.
type Command struct {
	Args []string
	Dir  string
}

// Validate checks that the configured interpreter exists and that at least one of
// the local or fallback tool paths exists for the current platform.
func (r *Resolver) Validate(cfg *EffectiveConfig, ictx InvocationContext) error {
	if cfg.InterpreterPath != "" && !r.exists(cfg.InterpreterPath) {
		return &ValidationError{Which: WhichInterpreter, Key: cfg.InterpreterKey, Value: cfg.InterpreterPath}
	}

	if r.LocalTool(cfg, ictx) != "" {
		return nil
	}
	if cfg.ToolPath != "" && r.isFile(cfg.ToolPath) {
		return nil
	}

	if cfg.ToolPath == "" && cfg.LocalToolPath != "" {
		return &ValidationError{Which: WhichLocalTool, Key: cfg.LocalToolKey, Value: cfg.LocalToolPath}
	}

	return &ValidationError{Which: WhichFallbackTool, Key: cfg.ToolKey, Value: cfg.ToolPath}
}

// SelectTool returns the project-local tool when one is installed, else the fallback path.
func (r *Resolver) SelectTool(cfg *EffectiveConfig, ictx InvocationContext) (string, bool) {
	if local := r.LocalTool(cfg, ictx); local != "" {
		return local, true
	}

	return cfg.ToolPath, false
}

// LocalTool finds a project-local php-cs-fixer: a marker directory must exist on the
// way up from the file (or the project root) and the configured local path must
// resolve to a file below that directory.
func (r *Resolver) LocalTool(cfg *EffectiveConfig, ictx InvocationContext) string {
	if cfg.LocalToolPath == "" {
		return ""
	}

	start := ictx.ProjectRoot
	if ictx.FilePath != "" {
		start = filepath.Dir(ictx.FilePath)
	}
	if start == "" {
		return ""
	}

	root := r.findUp(LocalToolMarkers, start)
	if root == "" {
		return ""
	}

	localPath := cfg.LocalToolPath
	if !filepath.IsAbs(localPath) {
		localPath = filepath.Join(root, localPath)
	}
	if !r.isFile(localPath) {
		return ""
	}

	return localPath
}

// ConfigFile returns the php-cs-fixer config file to pass, or "".
func (r *Resolver) ConfigFile(cfg *EffectiveConfig, ictx InvocationContext) string {
	if cfg.ConfigPath != "" && r.isFile(cfg.ConfigPath) {
		return cfg.ConfigPath
	}

	if ictx.ProjectRoot == "" {
		return ""
	}

	for _, name := range ConventionalConfigFiles {
		candidate := filepath.Join(ictx.ProjectRoot, name)
		if r.isFile(candidate) {
			return candidate
		}
	}

	return ""
}

// WorkingDir is the project root, else the file's directory, else the process directory.
func (r *Resolver) WorkingDir(ictx InvocationContext) string {
	if ictx.ProjectRoot != "" {
		return ictx.ProjectRoot
	}

	if ictx.FilePath != "" {
		dir := filepath.Dir(ictx.FilePath)
		if r.exists(dir) {
			return dir
		}
	}

	cwd, err := r.getwd()
	if err != nil {
		return ""
	}

	return cwd
}

// BuildCommand synthesizes the php-cs-fixer command line for ictx.FilePath.
func (r *Resolver) BuildCommand(cfg *EffectiveConfig, ictx InvocationContext) (Command, error) {
	if ictx.FilePath == "" {
		return Command{}, ErrNoFile
	}

	args, err := r.Invocation(cfg, ictx)
	if err != nil {
		return Command{}, err
	}
	args = append(args, fixSubcommand)

	if configFile := r.ConfigFile(cfg, ictx); configFile != "" {
		args = append(args, configFlag, configFile)
	}

	args = append(args, FilterVerbosity(cfg.ExtraArgs)...)
	if cfg.Debug {
		args = append(args, debugFlag)
	} else {
		args = append(args, quietFlag)
	}

	args = append(args, ictx.FilePath)

	return Command{Args: dropEmpty(args), Dir: r.WorkingDir(ictx)}, nil
}

// Invocation returns the tokens that start the selected tool: the interpreter when
// the tool needs one, then the tool itself.
func (r *Resolver) Invocation(cfg *EffectiveConfig, ictx InvocationContext) ([]string, error) {
	tool, _ := r.SelectTool(cfg, ictx)
	if tool == "" {
		return nil, &ValidationError{Which: WhichFallbackTool, Key: cfg.ToolKey}
	}

	if cfg.InterpreterPath != "" && NeedsInterpreter(tool) {
		return []string{cfg.InterpreterPath, tool}, nil
	}

	return []string{tool}, nil
}

// NeedsInterpreter reports whether tool must be run through the php interpreter.
// Extensionless paths and native executables run on their own; anything else
// (php-cs-fixer.phar, a .php entry point) is handed to php.
func NeedsInterpreter(tool string) bool {
	ext := strings.ToLower(filepath.Ext(tool))
	return ext != "" && !nativeExtensions[ext]
}

// FilterVerbosity removes quiet and verbose flags so exactly one can be appended.
func FilterVerbosity(args []string) []string {
	filtered := make([]string, 0, len(args))
	for _, arg := range args {
		if quietFlags[arg] || verboseFlags[arg] {
			continue
		}
		filtered = append(filtered, arg)
	}

	return filtered
}

// IsVerbosityFlag reports whether arg is a quiet or verbose flag.
func IsVerbosityFlag(arg string) bool {
	return quietFlags[arg] || verboseFlags[arg]
}

func dropEmpty(args []string) []string {
	kept := args[:0]
	for _, arg := range args {
		if arg != "" {
			kept = append(kept, arg)
		}
	}

	return kept
}

// findUp returns the first directory, walking up from dir, in which any pattern matches.
func (r *Resolver) findUp(patterns []string, dir string) string {
	dir = filepath.Clean(dir)
	for {
		if r.exists(dir) {
			fsys := afero.NewIOFS(afero.NewBasePathFs(r.fs, dir))
			for _, pattern := range patterns {
				if matches, err := doublestar.Glob(fsys, pattern); err == nil && len(matches) > 0 {
					return dir
				}
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (r *Resolver) exists(path string) bool {
	exists, err := afero.Exists(r.fs, path)
	return err == nil && exists
}

func (r *Resolver) isFile(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && !info.IsDir()
}
