package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/folding"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/formatter"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/utils"
)

var errMissingArgument = errors.New("missing command argument")

type documentArguments struct {
	URI protocol.DocumentURI `json:"uri"`
}

type refoldArguments struct {
	URI      protocol.DocumentURI `json:"uri"`
	Contents []string             `json:"contents"`
}

// CommandResult is returned by the formatFile command.
type CommandResult struct {
	Status  fixer.Status `json:"status"`
	RunID   string       `json:"runId,omitempty"`
	Message string       `json:"message,omitempty"`
}

func (s *Server) handleExecuteCommand(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.ExecuteCommandParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Msg("Error unmarshaling execute command params")
		return reply(ctx, nil, fmt.Errorf("invalid execute command params: %w", err))
	}

	s.logger.Debug().Str("command", params.Command).Msg("Execute command")

	switch params.Command {
	case getFullLspCommandName(LspCommandNameShowConfig):
		return s.handleShowConfigCommand(ctx, reply, params.Arguments)
	case getFullLspCommandName(LspCommandNameFormatFile):
		return s.handleFormatFileCommand(ctx, reply, params.Arguments)
	case getFullLspCommandName(LspCommandNameCheckFile):
		return s.handleCheckFileCommand(ctx, reply, params.Arguments)
	case getFullLspCommandName(LspCommandNameRefold):
		return s.handleRefoldCommand(ctx, reply, params.Arguments)
	default:
		return reply(ctx, nil, fmt.Errorf("unknown command: %s", params.Command))
	}
}

// handleShowConfigCommand replies with the effective configuration for the given
// document, or for the workspace when no document is given.
func (s *Server) handleShowConfigCommand(ctx context.Context, reply jsonrpc2.Replier, args []interface{}) error {
	path := ""
	if uri, err := documentURIArgument(args); err == nil {
		path = utils.URIToPath(uri)
	}

	ictx := s.invocationContext(path)
	cfg := s.effectiveConfig(ctx, ictx)

	data, err := json.Marshal(cfg)
	if err != nil {
		return reply(ctx, nil, fmt.Errorf("failed to encode configuration: %w", err))
	}
	s.showWindowMessage(ctx, protocol.MessageTypeInfo, fmt.Sprintf("Current configuration: %s", data))

	return reply(ctx, cfg, nil)
}

// handleFormatFileCommand fixes the file regardless of the format-on-save settings.
func (s *Server) handleFormatFileCommand(ctx context.Context, reply jsonrpc2.Replier, args []interface{}) error {
	uri, err := documentURIArgument(args)
	if err != nil {
		return reply(ctx, nil, err)
	}

	s.goTask(func() {
		ictx := s.invocationContext(utils.URIToPath(uri))
		cfg := s.effectiveConfig(ctx, ictx)

		outcome, err := s.fixFile(ctx, uri, cfg, ictx)
		if err != nil {
			_ = reply(ctx, nil, err)
			return
		}
		s.scheduleDiagnostics(uri)

		_ = reply(ctx, CommandResult{Status: outcome.Status, RunID: outcome.RunID, Message: outcome.Message()}, nil)
	})

	return nil
}

func (s *Server) handleCheckFileCommand(ctx context.Context, reply jsonrpc2.Replier, args []interface{}) error {
	uri, err := documentURIArgument(args)
	if err != nil {
		return reply(ctx, nil, err)
	}

	s.goTask(func() {
		diagnostics, _ := s.collectDiagnostics(ctx, uri, true)
		s.publishDiagnostics(ctx, uri, diagnostics)
		_ = reply(ctx, utils.EnsureDiagnosticsArray(diagnostics), nil)
	})

	return nil
}

// handleRefoldCommand maps folded region contents back to ranges in the current
// buffer so the client can restore folds after the text was rewritten.
func (s *Server) handleRefoldCommand(ctx context.Context, reply jsonrpc2.Replier, args []interface{}) error {
	var arguments refoldArguments
	if err := decodeArgument(args, &arguments); err != nil {
		return reply(ctx, nil, err)
	}
	if arguments.URI == "" {
		return reply(ctx, nil, errMissingArgument)
	}

	content, err := s.documentContent(arguments.URI)
	if err != nil {
		return reply(ctx, nil, err)
	}

	spans := folding.Refold(arguments.Contents, content)
	ranges := make([]protocol.Range, 0, len(spans))
	for _, span := range spans {
		ranges = append(ranges, protocol.Range{
			Start: formatter.PositionAt(content, span.Start),
			End:   formatter.PositionAt(content, span.End),
		})
	}

	return reply(ctx, ranges, nil)
}

// documentURIArgument accepts either a bare URI string or an object with a "uri" field.
func documentURIArgument(args []interface{}) (protocol.DocumentURI, error) {
	if len(args) > 0 {
		if raw, ok := args[0].(string); ok && raw != "" {
			return protocol.DocumentURI(raw), nil
		}
	}

	var arguments documentArguments
	if err := decodeArgument(args, &arguments); err != nil {
		return "", err
	}
	if arguments.URI == "" {
		return "", errMissingArgument
	}

	return arguments.URI, nil
}

func decodeArgument(args []interface{}, target interface{}) error {
	if len(args) == 0 || args[0] == nil {
		return errMissingArgument
	}

	data, err := json.Marshal(args[0])
	if err != nil {
		return fmt.Errorf("invalid command argument: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid command argument: %w", err)
	}

	return nil
}
