package resolver

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifies the operating system a platform-qualified key applies to.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformOSX     Platform = "osx"
)

// Platforms lists every platform name recognized as a key qualifier.
var Platforms = []Platform{PlatformWindows, PlatformLinux, PlatformOSX}

// PlatformFromGOOS maps a GOOS value to the platform naming used in settings.
func PlatformFromGOOS(goos string) Platform {
	if goos == "darwin" {
		return PlatformOSX
	}

	return Platform(goos)
}

// ArchFromGOARCH maps a GOARCH value to the architecture naming used in settings.
func ArchFromGOARCH(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "x32"
	default:
		return goarch
	}
}

// InvocationContext holds the per-call facts supplied by the host.
type InvocationContext struct {
	FilePath      string
	FileExtension string
	ProjectRoot   string
	Platform      Platform
	Arch          string
}

// NewInvocationContext builds a context for the running platform.
func NewInvocationContext(filePath string, projectRoot string) InvocationContext {
	return InvocationContext{
		FilePath:      filePath,
		FileExtension: strings.TrimPrefix(filepath.Ext(filePath), "."),
		ProjectRoot:   projectRoot,
		Platform:      PlatformFromGOOS(runtime.GOOS),
		Arch:          ArchFromGOARCH(runtime.GOARCH),
	}
}

// Variables returns the placeholder values available to "${var}" expansion.
func (ictx InvocationContext) Variables() map[string]string {
	vars := map[string]string{
		"file":           ictx.FilePath,
		"file_path":      "",
		"file_name":      "",
		"file_base_name": "",
		"file_extension": ictx.FileExtension,
		"folder":         ictx.ProjectRoot,
		"project_path":   ictx.ProjectRoot,
		"project_name":   "",
		"platform":       string(ictx.Platform),
		"arch":           ictx.Arch,
	}

	if ictx.FilePath != "" {
		name := filepath.Base(ictx.FilePath)
		vars["file_path"] = filepath.Dir(ictx.FilePath)
		vars["file_name"] = name
		vars["file_base_name"] = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if ictx.ProjectRoot != "" {
		vars["project_name"] = filepath.Base(ictx.ProjectRoot)
	}

	return vars
}
