package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/executor"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/formatter"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/logging"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/session"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/utils"
)

const (
	diagnosticsDebounceInterval = 300 * time.Millisecond
)

// Client is the part of the JSON-RPC connection the server talks back through.
type Client interface {
	Notify(ctx context.Context, method string, params interface{}) error
	Call(ctx context.Context, method string, params, result interface{}) (jsonrpc2.ID, error)
	Close() error
}

// Server represents the Language Server Protocol (LSP) server
type Server struct {
	conn      Client
	logger    zerolog.Logger
	fs        afero.Fs
	resolver  *resolver.Resolver
	runner    executor.CommandRunner
	fixer     *fixer.PhpCsFixer
	formatter *formatter.Formatter
	cache     *session.Cache

	globalPath string
	overrides  []string
	watch      bool

	// Settings state
	mu            sync.Mutex
	workspaceRoot string
	client        map[string]any
	sources       *config.Sources
	sourcesRoot   string
	watcher       *session.Watcher

	// One resolve -> validate -> build -> execute cycle at a time
	runMu sync.Mutex
	tasks sync.WaitGroup

	// In-memory document cache for synchronized content
	docMu     sync.RWMutex
	documents map[protocol.DocumentURI]string

	// Debounce for diagnostics (per-file) with last-wins strategy
	diagMu     sync.Mutex
	diagTimers map[protocol.DocumentURI]*time.Timer
	diagGen    map[protocol.DocumentURI]uint64
}

// Option configures a Server.
type Option func(*Server)

// WithResolver swaps the resolver, and with it the filesystem used for path checks.
func WithResolver(r *resolver.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithRunner swaps how php-cs-fixer processes are run.
func WithRunner(runner executor.CommandRunner) Option {
	return func(s *Server) { s.runner = runner }
}

// WithFs swaps the filesystem used to read fixed files and write temporary copies.
func WithFs(fs afero.Fs) Option {
	return func(s *Server) { s.fs = fs }
}

// WithGlobalSettings reads the global settings layer from path instead of the user config dir.
func WithGlobalSettings(path string) Option {
	return func(s *Server) { s.globalPath = path }
}

// WithOverrides adds "key=value" settings that outrank every other layer.
func WithOverrides(overrides []string) Option {
	return func(s *Server) { s.overrides = overrides }
}

// WithoutWatcher disables watching settings files for changes.
func WithoutWatcher() Option {
	return func(s *Server) { s.watch = false }
}

// New creates a new LSP server instance
func New(conn Client, opts ...Option) *Server {
	s := &Server{
		conn:       conn,
		logger:     logging.For(logging.TagServer),
		fs:         afero.NewOsFs(),
		cache:      session.NewCache(),
		watch:      true,
		client:     map[string]any{},
		documents:  make(map[protocol.DocumentURI]string),
		diagTimers: make(map[protocol.DocumentURI]*time.Timer),
		diagGen:    make(map[protocol.DocumentURI]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.resolver == nil {
		s.resolver = resolver.New()
	}
	if s.runner == nil {
		s.runner = executor.NewExecRunner()
	}
	s.fixer = fixer.NewPhpCsFixer(s.resolver, s.runner, fixer.WithFs(s.fs))
	s.formatter = formatter.NewFormatter(s.fixer)

	return s
}

func (s *Server) Handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.logger.Debug().Str("method", req.Method()).Msg("Received request")

	switch req.Method() {
	case protocol.MethodInitialize:
		return s.handleInitialize(ctx, reply, req)
	case protocol.MethodInitialized:
		return s.handleInitialized(ctx, reply, req)
	case protocol.MethodWorkspaceExecuteCommand:
		return s.handleExecuteCommand(ctx, reply, req)
	case protocol.MethodWorkspaceDidChangeConfiguration:
		return s.handleDidChangeConfiguration(ctx, reply, req)
	case protocol.MethodWorkspaceDidChangeWatchedFiles:
		return s.handleDidChangeWatchedFiles(ctx, reply, req)
	case protocol.MethodTextDocumentDidOpen:
		return s.handleDidOpen(ctx, reply, req)
	case protocol.MethodTextDocumentDidChange:
		return s.handleDidChange(ctx, reply, req)
	case protocol.MethodTextDocumentDidClose:
		return s.handleDidClose(ctx, reply, req)
	case protocol.MethodTextDocumentDidSave:
		return s.handleDidSave(ctx, reply, req)
	case protocol.MethodTextDocumentFormatting:
		return s.handleDocumentFormatting(ctx, reply, req)
	case protocol.MethodShutdown:
		return s.handleShutdown(ctx, reply, req)
	case protocol.MethodExit:
		return s.handleExit(ctx, reply, req)
	case protocol.MethodCancelRequest:
		return s.handleCancelRequest(ctx, reply, req)
	default:
		s.logger.Debug().Str("method", req.Method()).Msg("Unhandled method")
		return reply(ctx, nil, nil)
	}
}

// Wait blocks until background formatting and command work has finished.
func (s *Server) Wait() {
	s.tasks.Wait()
}

// Close stops pending diagnostics and the settings watcher.
func (s *Server) Close() error {
	s.diagMu.Lock()
	for uri, timer := range s.diagTimers {
		timer.Stop()
		delete(s.diagTimers, uri)
	}
	s.diagMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil

	return err
}

func (s *Server) handleInitialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Msg("Error unmarshaling initialize params")
		return reply(ctx, nil, fmt.Errorf("invalid initialize params: %w", err))
	}

	if params.ClientInfo != nil {
		s.logger.Info().Str("name", params.ClientInfo.Name).Str("version", params.ClientInfo.Version).Msg("Client info")
	}

	// Determine project root from workspace folder URI or RootURI
	projectRoot := ""
	if len(params.WorkspaceFolders) > 0 && params.WorkspaceFolders[0].URI != "" {
		projectRoot = utils.URIToPath(protocol.DocumentURI(params.WorkspaceFolders[0].URI))
	} else if params.RootURI != "" {
		projectRoot = utils.URIToPath(params.RootURI)
	} else if cwd, err := os.Getwd(); err == nil {
		projectRoot = cwd
	}

	s.mu.Lock()
	s.workspaceRoot = projectRoot
	s.client = clientSettings(params.InitializationOptions)
	s.mu.Unlock()

	s.ensureSources(ctx, projectRoot)
	s.logger.Info().Str("project_root", projectRoot).Msg("Initialized workspace")

	resp := protocol.InitializeResult{
		Capabilities: serverCapabilities(),
		ServerInfo:   serverInfo(),
	}

	return reply(ctx, resp, nil)
}

func (s *Server) handleInitialized(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info().Msg("Client initialized successfully")

	return reply(ctx, nil, nil)
}

func (s *Server) handleDidChangeConfiguration(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeConfigurationParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Str("method", req.Method()).Msg("Error unmarshaling params")
		return err
	}

	s.mu.Lock()
	s.client = clientSettings(params.Settings)
	if s.sources != nil {
		s.sources.SetClient(s.client)
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Client settings changed")
	s.settingsChanged(ctx)

	return nil
}

func (s *Server) handleDidChangeWatchedFiles(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeWatchedFilesParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Str("method", req.Method()).Msg("Error unmarshaling params")
		return err
	}

	for _, change := range params.Changes {
		path := utils.URIToPath(change.URI)
		if isSettingsFile(path) {
			s.onSettingsFileChanged(path)
			continue
		}

		if strings.HasSuffix(path, ".php") {
			switch change.Type {
			case protocol.FileChangeTypeChanged, protocol.FileChangeTypeCreated:
				s.scheduleDiagnostics(change.URI)
			case protocol.FileChangeTypeDeleted:
				s.publishDiagnostics(ctx, change.URI, []protocol.Diagnostic{})
			}
		}
	}

	return nil
}

func (s *Server) handleDidOpen(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Str("method", req.Method()).Msg("Error unmarshaling params")
		return err
	}

	s.setDocumentContent(params.TextDocument.URI, params.TextDocument.Text)
	s.scheduleDiagnostics(params.TextDocument.URI)

	return nil
}

func (s *Server) handleDidChange(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Str("method", req.Method()).Msg("Error unmarshaling params")
		return err
	}

	if len(params.ContentChanges) > 0 {
		lastChange := params.ContentChanges[len(params.ContentChanges)-1]
		s.setDocumentContent(params.TextDocument.URI, lastChange.Text)
	}

	return nil
}

func (s *Server) handleDidClose(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Str("method", req.Method()).Msg("Error unmarshaling params")
		return err
	}

	s.deleteDocumentContent(params.TextDocument.URI)
	if s.cancelDiagnostics(params.TextDocument.URI) {
		s.publishDiagnostics(ctx, params.TextDocument.URI, []protocol.Diagnostic{})
	}

	return nil
}

func (s *Server) handleDidSave(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Str("method", req.Method()).Msg("Error unmarshaling params")
		return err
	}

	if params.Text != "" {
		s.setDocumentContent(params.TextDocument.URI, params.Text)
	}

	uri := params.TextDocument.URI
	s.goTask(func() {
		s.formatOnSave(ctx, uri)
	})

	return nil
}

func (s *Server) handleDocumentFormatting(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DocumentFormattingParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Msg("Error unmarshaling document formatting params")
		return reply(ctx, nil, fmt.Errorf("invalid formatting params: %w", err))
	}

	uri := params.TextDocument.URI
	s.goTask(func() {
		edits, err := s.formatDocument(ctx, uri)
		if err != nil {
			// Already surfaced through window/showMessage.
			_ = reply(ctx, []protocol.TextEdit{}, nil)
			return
		}
		_ = reply(ctx, edits, nil)
	})

	return nil
}

func (s *Server) handleShutdown(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info().Msg("Performing cleanup before shutdown")

	// Running tasks may still await client responses, which arrive on this read loop.
	go func() {
		s.Wait()
		if err := s.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Could not stop settings watcher")
		}
		_ = reply(ctx, nil, nil)
	}()

	return nil
}

func (s *Server) handleExit(_ context.Context, _ jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info().Msg("Exiting server")

	_ = s.Close()

	return s.conn.Close()
}

func (s *Server) handleCancelRequest(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error().Err(err).Msg("Error unmarshaling cancel request params")
		return err
	}

	// Running php-cs-fixer processes observe ctx.Done() through the jsonrpc2 connection.
	s.logger.Debug().Interface("id", params.ID).Msg("Client requested cancellation")

	return reply(ctx, nil, nil)
}

func (s *Server) showWindowMessage(ctx context.Context, messageType protocol.MessageType, message string) {
	params := &protocol.ShowMessageParams{Type: messageType, Message: message}
	if err := s.conn.Notify(ctx, protocol.MethodWindowShowMessage, params); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send window message")
	}
}

func (s *Server) setDocumentContent(uri protocol.DocumentURI, content string) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	s.documents[uri] = content
}

func (s *Server) getDocumentContent(uri protocol.DocumentURI) (string, bool) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	content, exists := s.documents[uri]
	return content, exists
}

func (s *Server) deleteDocumentContent(uri protocol.DocumentURI) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	delete(s.documents, uri)
}

// documentContent returns the synchronized buffer, falling back to the file on disk.
func (s *Server) documentContent(uri protocol.DocumentURI) (string, error) {
	if content, exists := s.getDocumentContent(uri); exists {
		return content, nil
	}

	content, err := afero.ReadFile(s.fs, utils.URIToPath(uri))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return string(content), nil
}

func (s *Server) goTask(task func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		task()
	}()
}

func clientSettings(raw interface{}) map[string]any {
	if settings, ok := raw.(map[string]interface{}); ok {
		return settings
	}

	return map[string]any{}
}

func isSettingsFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, config.ProjectSettingsBaseName+".")
}
