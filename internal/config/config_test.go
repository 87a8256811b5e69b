package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

func TestLoadSettingsFile(t *testing.T) {
	tests := []struct {
		name          string
		fileName      string
		content       string
		expectedError bool
		errorContains string
		expected      map[string]any
	}{
		{
			name:     "json with comments and trailing comma",
			fileName: "settings.json",
			content: `{
				// global defaults
				"debug": true,
				"php_path": {"linux": "/usr/bin/php"},
				"extra_args": ["--dry-run"],
			}`,
			expected: map[string]any{
				"debug":      true,
				"php_path":   map[string]any{"linux": "/usr/bin/php"},
				"extra_args": []any{"--dry-run"},
			},
		},
		{
			name:     "yaml",
			fileName: "settings.yaml",
			content: `debug: false
phpcsfixer_path:
  linux: /opt/php-cs-fixer
format_on_save_extensions: [php, phtml]
`,
			expected: map[string]any{
				"debug":                     false,
				"phpcsfixer_path":           map[string]any{"linux": "/opt/php-cs-fixer"},
				"format_on_save_extensions": []any{"php", "phtml"},
			},
		},
		{
			name:     "toml",
			fileName: "settings.toml",
			content: `format_on_save = false
config_path = "${project_path}/.php-cs-fixer.php"

[php_path]
osx = "/opt/homebrew/bin/php"
`,
			expected: map[string]any{
				"format_on_save": false,
				"config_path":    "${project_path}/.php-cs-fixer.php",
				"php_path":       map[string]any{"osx": "/opt/homebrew/bin/php"},
			},
		},
		{
			name:          "invalid json",
			fileName:      "settings.json",
			content:       `{"debug": }`,
			expectedError: true,
			errorContains: "failed to parse settings file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.fileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			settings, err := config.LoadSettingsFile(path)
			if tt.expectedError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, settings)
		})
	}
}

func TestLoadSettingsFile_NotFound(t *testing.T) {
	_, err := config.LoadSettingsFile("/non/existent/settings.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read settings file")
}

func TestFindSettingsFile(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, config.FindSettingsFile(dir, config.ProjectSettingsBaseName))
	assert.Empty(t, config.FindSettingsFile("", config.ProjectSettingsBaseName))

	yamlPath := filepath.Join(dir, config.ProjectSettingsBaseName+".yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("debug: true\n"), 0o644))
	assert.Equal(t, yamlPath, config.FindSettingsFile(dir, config.ProjectSettingsBaseName))

	jsonPath := filepath.Join(dir, config.ProjectSettingsBaseName+".json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{}`), 0o644))
	assert.Equal(t, jsonPath, config.FindSettingsFile(dir, config.ProjectSettingsBaseName), "json is preferred")
}

func TestUnnamespace(t *testing.T) {
	raw := map[string]any{
		"debug": false,
		config.Namespace: map[string]any{
			"debug":       true,
			"config_path": "nested.php",
		},
		config.Namespace + ".config_path":    "flat.php",
		config.Namespace + ".php_path.linux": "/usr/bin/php",
	}

	settings := config.Unnamespace(raw)

	assert.Equal(t, true, settings["debug"], "nested namespace wins over bare keys")
	assert.Equal(t, "flat.php", settings["config_path"], "flat dotted keys win over nested")
	assert.Equal(t, "/usr/bin/php", settings["php_path.linux"])
	assert.NotContains(t, settings, config.Namespace)
}

func TestUnnamespace_MixedNestedAndFlatForms(t *testing.T) {
	raw := map[string]any{
		config.Namespace: map[string]any{
			config.KeyPhpCsFixerPath: map[string]any{"linux": "/nested/php-cs-fixer"},
		},
		config.Namespace + "." + config.KeyPhpCsFixerPath + ".linux": "/flat/php-cs-fixer",
	}

	for i := 0; i < 100; i++ {
		flat := resolver.Flatten(config.Unnamespace(raw))
		require.Equal(t, "/flat/php-cs-fixer", flat[config.KeyPhpCsFixerPath+".linux"])
	}
}

func TestParseOverride(t *testing.T) {
	tests := []struct {
		input         string
		expectedKey   string
		expectedValue any
		expectedError bool
	}{
		{input: "debug=true", expectedKey: "debug", expectedValue: true},
		{input: "config_path=/proj/.php-cs-fixer.php", expectedKey: "config_path", expectedValue: "/proj/.php-cs-fixer.php"},
		{input: `extra_args=["--dry-run","--diff"]`, expectedKey: "extra_args", expectedValue: []any{"--dry-run", "--diff"}},
		{input: "php_path.linux=", expectedKey: "php_path.linux", expectedValue: ""},
		{input: "no-equals-sign", expectedError: true},
		{input: "=value", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			key, value, err := config.ParseOverride(tt.input)
			if tt.expectedError {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedKey, key)
			assert.Equal(t, tt.expectedValue, value)
		})
	}
}

func TestLoadSources(t *testing.T) {
	projectRoot := t.TempDir()
	globalPath := filepath.Join(t.TempDir(), "settings.json")

	require.NoError(t, os.WriteFile(globalPath, []byte(`{"debug": true}`), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(projectRoot, config.ProjectSettingsBaseName+".json"),
		[]byte(`{"phpcsfixer-formatter": {"format_on_save": false}}`),
		0o644,
	))

	sources, err := config.LoadSources(projectRoot, globalPath)
	require.NoError(t, err)

	assert.Equal(t, true, sources.Global["debug"])
	assert.Equal(t, false, sources.Project["format_on_save"])
	assert.Equal(t, globalPath, sources.GlobalPath)
	assert.Equal(t, filepath.Join(projectRoot, config.ProjectSettingsBaseName+".json"), sources.ProjectPath)

	layers := sources.Layers()
	require.Len(t, layers, 5)
	assert.Equal(t, config.Defaults(), layers[0])

	require.NoError(t, sources.AddOverrides([]string{"debug=false"}))
	assert.Equal(t, false, sources.Overrides["debug"])

	sources.SetClient(map[string]any{"phpcsfixer-formatter.debug": true})
	assert.Equal(t, true, sources.Client["debug"])

	watched := sources.WatchedFiles(projectRoot)
	assert.Equal(t, globalPath, watched[0])
	assert.Contains(t, watched, sources.ProjectPath)
	assert.Contains(t, watched, filepath.Join(projectRoot, config.ProjectSettingsBaseName+".toml"), "candidates that do not exist yet are watched too")
}

func TestLoadSources_MissingFiles(t *testing.T) {
	sources, err := config.LoadSources(t.TempDir(), filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, sources.Global)
	assert.Empty(t, sources.Project)
	assert.Empty(t, sources.GlobalPath)
}

func TestLoadSources_BrokenProjectFile(t *testing.T) {
	projectRoot := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(projectRoot, config.ProjectSettingsBaseName+".yaml"),
		[]byte("debug: [unterminated"),
		0o644,
	))

	_, err := config.LoadSources(projectRoot, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse settings file")
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "phpcsfixer-formatter", config.Name)
	assert.NotEmpty(t, config.Version)
	assert.Equal(t, config.Name, config.Namespace)
}
