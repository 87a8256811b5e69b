package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.lsp.dev/jsonrpc2"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/logging"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/server"
)

type stdioStream struct {
	io.Reader
	io.Writer
}

// Close leaves stdin and stdout open; the process exits right after.
func (stdioStream) Close() error {
	return nil
}

func (a *app) newServeCommand() *cobra.Command {
	var stdio bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the language server over stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	// Editors commonly pass --stdio; it is the only transport.
	cmd.Flags().BoolVar(&stdio, "stdio", true, "Use stdin/stdout for communication")

	return cmd
}

func (a *app) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logger := logging.For(logging.TagLSP)
	logger.Info().Str("version", config.Version).Msg("Starting language server")

	if ctx == nil {
		ctx = context.Background()
	}

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(stdioStream{Reader: in, Writer: out}))

	opts := []server.Option{
		server.WithResolver(a.resolver),
		server.WithRunner(a.runner),
		server.WithOverrides(a.allOverrides()),
	}
	if a.settings != "" {
		opts = append(opts, server.WithGlobalSettings(a.settings))
	}
	lspServer := server.New(conn, opts...)

	logger.Debug().Msg("Handling requests")
	conn.Go(ctx, lspServer.Handle)
	<-conn.Done()

	lspServer.Wait()
	if err := lspServer.Close(); err != nil {
		logger.Warn().Err(err).Msg("Could not stop settings watcher")
	}

	if err := conn.Err(); err != nil && !isClosedStream(err) {
		return fmt.Errorf("language server stopped: %w", err)
	}

	logger.Info().Msg("Language server shutdown complete")

	return nil
}

func isClosedStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}
