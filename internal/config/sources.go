package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sources holds the raw settings layers of one project.
type Sources struct {
	Defaults  map[string]any
	Global    map[string]any
	Project   map[string]any
	Client    map[string]any
	Overrides map[string]any

	GlobalPath  string
	ProjectPath string
}

// Layers returns the raw layers from lowest to highest precedence.
func (s *Sources) Layers() []map[string]any {
	return []map[string]any{s.Defaults, s.Global, s.Project, s.Client, s.Overrides}
}

// WatchedFiles lists the settings files backing the file layers, including
// candidates that do not exist yet so that creating one is noticed.
func (s *Sources) WatchedFiles(projectRoot string) []string {
	var files []string
	if s.GlobalPath != "" {
		files = append(files, s.GlobalPath)
	} else if dir := GlobalSettingsDir(); dir != "" {
		files = append(files, settingsCandidates(dir, GlobalSettingsBaseName)...)
	}

	if projectRoot != "" {
		files = append(files, settingsCandidates(projectRoot, ProjectSettingsBaseName)...)
	}

	return files
}

func settingsCandidates(dir string, baseName string) []string {
	candidates := make([]string, 0, len(settingsExtensions))
	for _, ext := range settingsExtensions {
		candidates = append(candidates, filepath.Join(dir, baseName+ext))
	}

	return candidates
}

// LoadSources reads the global and project settings files. globalPath overrides the
// default global location; a missing file yields an empty layer, a broken one an error.
func LoadSources(projectRoot string, globalPath string) (*Sources, error) {
	sources := &Sources{
		Defaults:  Defaults(),
		Global:    map[string]any{},
		Project:   map[string]any{},
		Client:    map[string]any{},
		Overrides: map[string]any{},
	}

	if globalPath == "" {
		globalPath = FindSettingsFile(GlobalSettingsDir(), GlobalSettingsBaseName)
	}
	if globalPath != "" {
		if _, err := os.Stat(globalPath); err == nil {
			global, err := LoadSettingsFile(globalPath)
			if err != nil {
				return sources, err
			}
			sources.Global = global
			sources.GlobalPath = globalPath
		} else if !os.IsNotExist(err) {
			return sources, fmt.Errorf("failed to stat settings file %s: %w", globalPath, err)
		}
	}

	if projectPath := FindSettingsFile(projectRoot, ProjectSettingsBaseName); projectPath != "" {
		project, err := LoadSettingsFile(projectPath)
		if err != nil {
			return sources, err
		}
		sources.Project = Unnamespace(project)
		sources.ProjectPath = projectPath
	}

	return sources, nil
}

// SetClient replaces the client (editor) settings layer.
func (s *Sources) SetClient(raw map[string]any) {
	if raw == nil {
		s.Client = map[string]any{}
		return
	}
	s.Client = Unnamespace(normalizeValues(raw))
}

// AddOverrides parses "key=value" overrides into the per-invocation layer.
func (s *Sources) AddOverrides(overrides []string) error {
	for _, override := range overrides {
		key, value, err := ParseOverride(override)
		if err != nil {
			return err
		}
		s.Overrides[key] = value
	}

	return nil
}
