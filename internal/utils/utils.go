package utils

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/config"
)

// ProjectMarkers identify a PHP project root, besides the project settings file.
var ProjectMarkers = []string{"composer.json", ".git"}

func URIToPath(documentURI protocol.DocumentURI) string {
	raw := string(documentURI)
	if !strings.HasPrefix(raw, uri.FileScheme+"://") {
		return raw
	}

	parsed, err := url.ParseRequestURI(raw)
	if err != nil || parsed.Host != "" {
		return strings.TrimPrefix(raw, uri.FileScheme+"://")
	}

	path := parsed.Path
	// "/C:/Users" -> "C:/Users"
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' && unicode.IsLetter(rune(path[1])) {
		path = path[1:]
	}

	return filepath.FromSlash(path)
}

func PathToURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(path))
}

// FindProjectRoot walks up from the file's directory to the first directory holding a
// project settings file or one of ProjectMarkers. It returns "" when there is none.
func FindProjectRoot(filePath string) string {
	if filePath == "" {
		return ""
	}
	dir := filepath.Dir(filePath)

	for {
		if config.FindSettingsFile(dir, config.ProjectSettingsBaseName) != "" {
			return dir
		}
		for _, marker := range ProjectMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}

func EnsureDiagnosticsArray(diagnostics []protocol.Diagnostic) []protocol.Diagnostic {
	if diagnostics == nil {
		return make([]protocol.Diagnostic, 0)
	}
	return diagnostics
}

func SnakeCaseToHumanReadable(stringToConvert string) string {
	stringToConvert = strings.Trim(stringToConvert, "_")
	if stringToConvert == "" {
		return ""
	}

	parts := strings.Split(stringToConvert, "_")
	runes := []rune(parts[0])
	runes[0] = unicode.ToUpper(runes[0])
	parts[0] = string(runes)

	return strings.Join(parts, " ")
}
