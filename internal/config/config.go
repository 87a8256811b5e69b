package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	Name      string = "phpcsfixer-formatter"
	Version   string = "0.1.0"
	Namespace string = Name

	ProjectSettingsBaseName string = ".phpcsfixer-formatter"
	GlobalSettingsBaseName  string = "settings"
)

// Setting keys understood by the resolver.
const (
	KeyDebug                  = "debug"
	KeyFormatOnSave           = "format_on_save"
	KeyFormatOnSaveExtensions = "format_on_save_extensions"
	KeyPhpPath                = "php_path"
	KeyPhpCsFixerPath         = "phpcsfixer_path"
	KeyLocalPhpCsFixerPath    = "local_phpcsfixer_path"
	KeyConfigPath             = "config_path"
	KeyExtraArgs              = "extra_args"
	KeyEnv                    = "env"
	KeyDotenvPath             = "dotenv_path"
	KeyDiagnostics            = "diagnostics"
)

var settingsExtensions = []string{".json", ".jsonc", ".yaml", ".yml", ".toml"}

// Defaults returns the built-in settings layer.
func Defaults() map[string]any {
	return map[string]any{
		KeyDebug:                  false,
		KeyFormatOnSave:           true,
		KeyFormatOnSaveExtensions: []any{"php"},
		KeyPhpPath:                map[string]any{},
		KeyPhpCsFixerPath: map[string]any{
			"linux":   "php-cs-fixer",
			"osx":     "php-cs-fixer",
			"windows": "php-cs-fixer",
		},
		KeyLocalPhpCsFixerPath: map[string]any{
			"linux":   "vendor/bin/php-cs-fixer",
			"osx":     "vendor/bin/php-cs-fixer",
			"windows": `vendor\bin\php-cs-fixer.bat`,
		},
		KeyConfigPath:  "",
		KeyExtraArgs:   []any{},
		KeyEnv:         map[string]any{},
		KeyDotenvPath:  "",
		KeyDiagnostics: false,
	}
}

// LoadSettingsFile decodes one settings file, picking the decoder from the extension.
// JSON files may contain comments and trailing commas.
func LoadSettingsFile(path string) (map[string]any, error) {
	rawData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	settings := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(rawData, &settings)
	case ".toml":
		err = toml.Unmarshal(rawData, &settings)
	default:
		err = json.Unmarshal(jsonc.ToJSON(rawData), &settings)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	return normalizeValues(settings), nil
}

// FindSettingsFile returns the first existing "<dir>/<baseName><ext>" candidate, or "".
func FindSettingsFile(dir string, baseName string) string {
	if dir == "" {
		return ""
	}

	for _, ext := range settingsExtensions {
		candidate := filepath.Join(dir, baseName+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	return ""
}

// GlobalSettingsDir is where the user-wide settings file lives.
func GlobalSettingsDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, Name)
}

// Unnamespace folds the three accepted shapes of project/client settings into one map:
// nested under the namespace key, flat "namespace.key.sub" keys, or bare keys.
// Flat keys win over the nested form.
func Unnamespace(raw map[string]any) map[string]any {
	settings := make(map[string]any)
	prefix := Namespace + "."

	for key, value := range raw {
		if key == Namespace || strings.HasPrefix(key, prefix) {
			continue
		}
		settings[key] = value
	}

	if nested, ok := raw[Namespace].(map[string]any); ok {
		for key, value := range nested {
			settings[key] = value
		}
	}

	for key, value := range raw {
		if strings.HasPrefix(key, prefix) {
			settings[strings.TrimPrefix(key, prefix)] = value
		}
	}

	return settings
}

// ParseOverride parses a "key=value" override. The value is decoded as JSON when possible,
// so "debug=true" yields a bool and "extra_args=[\"--dry-run\"]" a list.
func ParseOverride(override string) (string, any, error) {
	key, rawValue, found := strings.Cut(override, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", nil, fmt.Errorf("invalid override %q: expected key=value", override)
	}

	var value any
	if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
		return key, rawValue, nil
	}

	return key, normalizeValue(value), nil
}

// normalizeValues converts decoder-specific container types into map[string]any / []any.
func normalizeValues(settings map[string]any) map[string]any {
	for key, value := range settings {
		settings[key] = normalizeValue(value)
	}

	return settings
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return normalizeValues(v)
	case map[any]any:
		converted := make(map[string]any, len(v))
		for key, item := range v {
			converted[fmt.Sprint(key)] = normalizeValue(item)
		}
		return converted
	case []any:
		for i, item := range v {
			v[i] = normalizeValue(item)
		}
		return v
	case []string:
		converted := make([]any, len(v))
		for i, item := range v {
			converted[i] = item
		}
		return converted
	default:
		return value
	}
}
