package server

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/session"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/utils"
)

// ensureSources loads the settings layers for root unless they are already loaded.
func (s *Server) ensureSources(ctx context.Context, root string) {
	s.mu.Lock()
	loaded := s.sources != nil && s.sourcesRoot == root
	s.mu.Unlock()

	if loaded {
		return
	}

	s.loadSources(ctx, root, true)
}

func (s *Server) loadSources(ctx context.Context, root string, restartWatcher bool) {
	sources, loadErr := config.LoadSources(root, s.globalPath)

	s.mu.Lock()
	sources.SetClient(s.client)
	overrideErr := sources.AddOverrides(s.overrides)
	s.sources = sources
	s.sourcesRoot = root
	if restartWatcher && s.watch {
		s.restartWatcherLocked(sources, root)
	}
	s.mu.Unlock()

	s.cache.Invalidate()

	for _, err := range []error{loadErr, overrideErr} {
		if err == nil {
			continue
		}
		s.logger.Error().Err(err).Str("project_root", root).Msg("Failed to load settings")
		s.showWindowMessage(ctx, protocol.MessageTypeError, fmt.Sprintf("%s: %v", config.Name, err))
	}
}

func (s *Server) restartWatcherLocked(sources *config.Sources, root string) {
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Could not stop settings watcher")
		}
		s.watcher = nil
	}

	watcher, err := session.NewWatcher(sources.WatchedFiles(root), session.DefaultDebounce, s.onSettingsFileChanged)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Settings files will not be watched")
		return
	}
	s.watcher = watcher
}

func (s *Server) onSettingsFileChanged(path string) {
	s.logger.Info().Str("file", path).Msg("Settings file changed, reloading")

	ctx := context.Background()
	s.mu.Lock()
	root := s.sourcesRoot
	s.mu.Unlock()

	s.loadSources(ctx, root, false)
	s.settingsChanged(ctx)
}

// settingsChanged drops the cached configuration and re-validates the last file
// so that a broken setting is reported right away.
func (s *Server) settingsChanged(ctx context.Context) {
	snapshot := s.cache.Snapshot()
	s.cache.Invalidate()

	if snapshot.FilePath == "" {
		return
	}

	s.goTask(func() {
		ictx := s.invocationContext(snapshot.FilePath)
		cfg := s.effectiveConfig(ctx, ictx)
		if err := s.resolver.Validate(cfg, ictx); err != nil {
			s.reportError(ctx, err)
		}
	})
}

// effectiveConfig resolves the configuration for ictx, reusing the cached one while
// the file and project root are unchanged.
func (s *Server) effectiveConfig(ctx context.Context, ictx resolver.InvocationContext) *resolver.EffectiveConfig {
	s.ensureSources(ctx, ictx.ProjectRoot)

	s.mu.Lock()
	layers := s.sources.Layers()
	s.mu.Unlock()

	return s.cache.Get(ictx, func() *resolver.EffectiveConfig {
		return s.resolver.Resolve(layers, ictx)
	})
}

func (s *Server) invocationContext(filePath string) resolver.InvocationContext {
	return resolver.NewInvocationContext(filePath, s.projectRootFor(filePath))
}

// projectRootFor prefers the workspace root for files inside it, else looks for
// the nearest project marker above the file.
func (s *Server) projectRootFor(filePath string) string {
	s.mu.Lock()
	workspaceRoot := s.workspaceRoot
	s.mu.Unlock()

	if filePath == "" || (workspaceRoot != "" && isWithin(filePath, workspaceRoot)) {
		return workspaceRoot
	}

	return utils.FindProjectRoot(filePath)
}

func isWithin(path string, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
