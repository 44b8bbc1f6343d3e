// Package paths computes the per-platform directories the host and its
// backend use. Resolution is pure: the same Platform and AppInfo always
// yield the same Location, and nothing is created on disk.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// Environment variables that override the computed directories.
const (
	EnvDataDir = "DESKHOST_DATA_DIR"
	EnvLogDir  = "DESKHOST_LOG_DIR"
)

// Platform is the host identity resolution depends on.
type Platform struct {
	OS     string // runtime.GOOS value
	Home   string
	Getenv func(string) string
}

// CurrentPlatform describes the running host.
func CurrentPlatform() Platform {
	home, _ := os.UserHomeDir()
	return Platform{OS: runtime.GOOS, Home: home, Getenv: os.Getenv}
}

func (p Platform) getenv(k string) string {
	if p.Getenv == nil {
		return ""
	}
	return p.Getenv(k)
}

// AppInfo names the application and the layout of its packaged resources.
type AppInfo struct {
	Vendor       string
	Name         string
	RuntimeName  string // directory name of the bundled runtime, e.g. "python"
	ServerEntry  string // entry script relative to ResourceRoot
	ResourceRoot string // packaged resource root
}

// Location is the resolved, immutable set of paths for one run.
type Location struct {
	DataDir            string
	LogDir             string
	LogFile            string
	ResourceRoot       string
	BundledRuntimeDir  string
	PortableRuntimeDir string
	ServerEntryPath    string
	ExecutablePath     string
}

// Resolve computes the Location for app on platform p.
func Resolve(p Platform, app AppInfo) Location {
	data, logs := platformDirs(p, app)
	if v := p.getenv(EnvDataDir); v != "" {
		data = v
	}
	if v := p.getenv(EnvLogDir); v != "" {
		logs = v
	}

	loc := Location{
		DataDir:      data,
		LogDir:       logs,
		LogFile:      filepath.Join(logs, app.Name+".log"),
		ResourceRoot: app.ResourceRoot,
	}
	if app.RuntimeName != "" {
		loc.BundledRuntimeDir = filepath.Join(app.ResourceRoot, app.RuntimeName)
		loc.PortableRuntimeDir = filepath.Join(data, app.RuntimeName)
		loc.ExecutablePath = filepath.Join(loc.PortableRuntimeDir, interpreterPath(p.OS))
	}
	if app.ServerEntry != "" {
		loc.ServerEntryPath = filepath.Join(app.ResourceRoot, filepath.FromSlash(app.ServerEntry))
	}
	return loc
}

func platformDirs(p Platform, app AppInfo) (data, logs string) {
	switch p.OS {
	case "windows":
		base := p.getenv("LOCALAPPDATA")
		if base == "" {
			home := p.getenv("USERPROFILE")
			if home == "" {
				home = p.Home
			}
			base = filepath.Join(home, "AppData", "Local")
		}
		data = filepath.Join(base, app.Vendor, app.Name)
		return data, filepath.Join(data, "Logs")
	case "darwin":
		return filepath.Join(p.Home, "Library", "Application Support", app.Name),
			filepath.Join(p.Home, "Library", "Logs", app.Name)
	default:
		return filepath.Join(p.Home, ".local", "share", app.Name),
			filepath.Join(p.Home, ".cache", app.Name, "log")
	}
}

// interpreterPath is the interpreter location inside a portable runtime.
func interpreterPath(goos string) string {
	if goos == "windows" {
		return "python.exe"
	}
	return filepath.Join("bin", "python3")
}
