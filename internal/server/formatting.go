package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/formatter"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/utils"
)

type applyWorkspaceEditResult struct {
	Applied       bool   `json:"applied"`
	FailureReason string `json:"failureReason,omitempty"`
}

// formatOnSave fixes the saved file in place when the settings allow it and pushes
// the result back to the client as a workspace edit.
func (s *Server) formatOnSave(ctx context.Context, uri protocol.DocumentURI) {
	path := utils.URIToPath(uri)
	ictx := s.invocationContext(path)
	cfg := s.effectiveConfig(ctx, ictx)

	if !s.resolver.ShouldRun(cfg, ictx) {
		s.logger.Debug().Str("file", path).Msg("Format on save skipped")
		s.scheduleDiagnostics(uri)
		return
	}

	if _, err := s.fixFile(ctx, uri, cfg, ictx); err != nil {
		return
	}
	s.scheduleDiagnostics(uri)
}

// fixFile runs php-cs-fixer over the file on disk and sends the difference to the client.
func (s *Server) fixFile(ctx context.Context, uri protocol.DocumentURI, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext) (*fixer.Outcome, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	before, err := s.documentContent(uri)
	if err != nil {
		s.reportError(ctx, err)
		return nil, err
	}

	outcome, err := s.fixer.Fix(ctx, cfg, ictx)
	if err != nil {
		s.reportError(ctx, err)
		return outcome, err
	}
	s.reportOutcome(ctx, outcome)

	after, err := afero.ReadFile(s.fs, ictx.FilePath)
	if err != nil {
		err = fmt.Errorf("failed to read fixed file: %w", err)
		s.reportError(ctx, err)
		return outcome, err
	}

	edits := formatter.TextEdits(before, string(after))
	if err := s.applyEdits(ctx, uri, edits); err != nil {
		s.logger.Error().Err(err).Str("file", ictx.FilePath).Msg("Failed to apply workspace edit")
	}
	s.setDocumentContent(uri, string(after))

	return outcome, nil
}

// formatDocument formats the synchronized buffer through a temporary copy.
func (s *Server) formatDocument(ctx context.Context, uri protocol.DocumentURI) ([]protocol.TextEdit, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	path := utils.URIToPath(uri)
	ictx := s.invocationContext(path)
	cfg := s.effectiveConfig(ctx, ictx)

	content, err := s.documentContent(uri)
	if err != nil {
		s.reportError(ctx, err)
		return nil, err
	}

	edits, outcome, err := s.formatter.Format(ctx, cfg, ictx, content)
	if err != nil {
		s.reportError(ctx, err)
		return nil, err
	}
	s.reportOutcome(ctx, outcome)

	return edits, nil
}

func (s *Server) applyEdits(ctx context.Context, uri protocol.DocumentURI, edits []protocol.TextEdit) error {
	if len(edits) == 0 {
		return nil
	}

	params := &protocol.ApplyWorkspaceEditParams{
		Label: config.Name,
		Edit: protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentURI][]protocol.TextEdit{uri: edits},
		},
	}

	var result applyWorkspaceEditResult
	if _, err := s.conn.Call(ctx, protocol.MethodWorkspaceApplyEdit, params, &result); err != nil {
		return fmt.Errorf("workspace/applyEdit failed: %w", err)
	}
	if !result.Applied {
		s.logger.Warn().Str("uri", string(uri)).Str("reason", result.FailureReason).Msg("Client rejected workspace edit")
	}

	return nil
}

// reportError surfaces a failed cycle to the user. Validation errors name the setting
// at fault and tool errors carry php-cs-fixer's own output.
func (s *Server) reportError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Msg("Run cancelled")
		return
	}

	s.logger.Error().Err(err).Msg("php-cs-fixer run failed")

	messageType := protocol.MessageTypeError
	if errors.Is(err, resolver.ErrNoFile) {
		messageType = protocol.MessageTypeWarning
	}

	s.showWindowMessage(ctx, messageType, fmt.Sprintf("%s: %v", config.Name, err))
}

func (s *Server) reportOutcome(ctx context.Context, outcome *fixer.Outcome) {
	if outcome == nil || outcome.Status != fixer.StatusWarning {
		return
	}

	message := outcome.Message()
	if message == "" {
		return
	}

	s.showWindowMessage(ctx, protocol.MessageTypeWarning, fmt.Sprintf("%s: %s", config.Name, message))
}
