package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/utils"
)

var ignoredDirs = []string{"/vendor/", "/var/cache/"}

func (s *Server) publishDiagnostics(ctx context.Context, uri protocol.DocumentURI, diagnostics []protocol.Diagnostic) {
	params := &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: utils.EnsureDiagnosticsArray(diagnostics),
	}

	if err := s.conn.Notify(ctx, protocol.MethodTextDocumentPublishDiagnostics, params); err != nil {
		s.logger.Error().Err(err).Str("uri", string(uri)).Msg("Error publishing diagnostics")
	}
}

// scheduleDiagnostics debounces a dry run for uri; only the latest request publishes.
func (s *Server) scheduleDiagnostics(uri protocol.DocumentURI) {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()

	if timer, exists := s.diagTimers[uri]; exists {
		timer.Stop()
	}

	s.diagGen[uri]++
	gen := s.diagGen[uri]

	s.diagTimers[uri] = time.AfterFunc(diagnosticsDebounceInterval, func() {
		s.diagMu.Lock()
		delete(s.diagTimers, uri)
		s.diagMu.Unlock()

		ctx := context.Background()
		diagnostics, ok := s.collectDiagnostics(ctx, uri, false)
		if !ok {
			return
		}

		s.diagMu.Lock()
		currentGen := s.diagGen[uri]
		s.diagMu.Unlock()
		if gen != currentGen {
			return
		}

		s.publishDiagnostics(ctx, uri, diagnostics)
	})
}

// cancelDiagnostics stops a pending run and reports whether uri ever had one.
func (s *Server) cancelDiagnostics(uri protocol.DocumentURI) bool {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()

	if timer, exists := s.diagTimers[uri]; exists {
		timer.Stop()
		delete(s.diagTimers, uri)
	}

	_, seen := s.diagGen[uri]
	delete(s.diagGen, uri)

	return seen
}

// collectDiagnostics turns a php-cs-fixer dry run into warnings on the changed lines.
// Unless forced it does nothing when the diagnostics setting is off, and reports false.
func (s *Server) collectDiagnostics(ctx context.Context, uri protocol.DocumentURI, force bool) ([]protocol.Diagnostic, bool) {
	diagnostics := []protocol.Diagnostic{}

	filePath := utils.URIToPath(uri)
	for _, dir := range ignoredDirs {
		if strings.Contains(filePath, dir) {
			return diagnostics, true
		}
	}

	ictx := s.invocationContext(filePath)
	cfg := s.effectiveConfig(ctx, ictx)
	if !cfg.Diagnostics && !force {
		return nil, false
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	report, err := s.fixer.Check(ctx, cfg, ictx)
	if err != nil {
		if force {
			s.reportError(ctx, err)
		} else {
			s.logger.Warn().Err(err).Str("file", filePath).Msg("Diagnostics run failed")
		}
		return diagnostics, true
	}

	for _, file := range report.Files {
		message := s.diagnosticMessage(ctx, cfg, ictx, file.AppliedFixers)
		for _, r := range file.Ranges {
			diagnostics = append(diagnostics, protocol.Diagnostic{
				Range:    r,
				Severity: protocol.DiagnosticSeverityWarning,
				Source:   fixer.ProviderName,
				Message:  message,
			})
		}
	}

	return diagnostics, true
}

func (s *Server) diagnosticMessage(ctx context.Context, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext, fixers []string) string {
	switch len(fixers) {
	case 0:
		return "Code style issue"
	case 1:
		description, err := s.fixer.Describe(ctx, cfg, ictx, fixers[0])
		if err != nil || description == "" {
			return fmt.Sprintf("Code style: %s", utils.SnakeCaseToHumanReadable(fixers[0]))
		}
		return fmt.Sprintf("%s: %s", utils.SnakeCaseToHumanReadable(fixers[0]), description)
	default:
		return fmt.Sprintf("Code style: %s", strings.Join(fixers, ", "))
	}
}
