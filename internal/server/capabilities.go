package server

import (
	"fmt"

	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
)

const (
	LspCommandPrefix         = config.Name
	LspCommandSeparator      = "/"
	LspCommandNameShowConfig = "showConfig"
	LspCommandNameFormatFile = "formatFile"
	LspCommandNameCheckFile  = "checkFile"
	LspCommandNameRefold     = "refold"
)

func serverCapabilities() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			Change:    protocol.TextDocumentSyncKindFull,
			OpenClose: true,
			Save:      &protocol.SaveOptions{IncludeText: false},
		},
		ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
			Commands: []string{
				getFullLspCommandName(LspCommandNameShowConfig),
				getFullLspCommandName(LspCommandNameFormatFile),
				getFullLspCommandName(LspCommandNameCheckFile),
				getFullLspCommandName(LspCommandNameRefold),
			},
		},
		DocumentFormattingProvider: true,
	}
}

func serverInfo() *protocol.ServerInfo {
	return &protocol.ServerInfo{
		Name:    config.Name,
		Version: config.Version,
	}
}

func getFullLspCommandName(command string) string {
	return fmt.Sprintf("%s%s%s", LspCommandPrefix, LspCommandSeparator, command)
}
