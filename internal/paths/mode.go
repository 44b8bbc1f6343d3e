package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Mode selects how the backend is launched.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModePackaged    Mode = "packaged"
	ModeDevelopment Mode = "development"
)

// ParseMode accepts the config spelling of a mode; "" means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePackaged, "package":
		return ModePackaged, nil
	case ModeDevelopment, "dev":
		return ModeDevelopment, nil
	}
	return "", fmt.Errorf("unknown mode %q (want auto, packaged or development)", s)
}

// DetectMode resolves ModeAuto: a bundled runtime under the resource root
// means we are running from an installed package.
func DetectMode(fs afero.Fs, m Mode, loc Location) Mode {
	if m != ModeAuto {
		return m
	}
	if loc.BundledRuntimeDir == "" {
		return ModeDevelopment
	}
	if ok, _ := afero.DirExists(fs, loc.BundledRuntimeDir); ok {
		return ModePackaged
	}
	return ModeDevelopment
}

// DefaultResourceRoot is the "resources" directory next to the running
// executable, the layout installers produce.
func DefaultResourceRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return "resources"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "resources")
}
