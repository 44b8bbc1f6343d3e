package process

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/loykin/deskhost/internal/env"
	"github.com/loykin/deskhost/internal/failure"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/spf13/afero"
)

// PortFlag is the backend's command line flag for the listen port.
const PortFlag = "--port"

// LaunchConfig carries the knobs ResolvePlan needs beyond the resolved paths.
type LaunchConfig struct {
	Python         string // development interpreter; DefaultPython when empty
	ServerModule   string // module run with -m in development mode
	ProjectRoot    string // working directory in development mode
	SettingsEnvKey string
	SettingsModule string
	DataDirEnvKey  string
	LogDirEnvKey   string
	BaseEnv        []string // parent environment; nil means none
	GOOS           string   // runtime.GOOS when empty
}

// Plan is a fully specified launch. Building one has no side effects.
type Plan struct {
	Mode       paths.Mode
	Executable string
	Args       []string
	Dir        string
	Env        []string
	Overlay    env.Var
	Port       int
}

// DefaultPython is the ambient interpreter name on goos.
func DefaultPython(goos string) string {
	if goos == "windows" {
		return "python"
	}
	return "python3"
}

// ResolvePlan decides what to run for mode. mode must already be concrete
// (see paths.DetectMode).
func ResolvePlan(mode paths.Mode, loc paths.Location, port int, lc LaunchConfig) (Plan, error) {
	if port <= 0 || port > 65535 {
		return Plan{}, fmt.Errorf("invalid port %d", port)
	}
	goos := lc.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	p := Plan{Mode: mode, Port: port}
	portArg := strconv.Itoa(port)

	switch mode {
	case paths.ModePackaged:
		if loc.ExecutablePath == "" || loc.ServerEntryPath == "" {
			return Plan{}, errors.New("packaged launch requires a runtime and server entry")
		}
		p.Executable = loc.ExecutablePath
		p.Args = []string{loc.ServerEntryPath, PortFlag, portArg}
		p.Dir = loc.ResourceRoot
	case paths.ModeDevelopment:
		if lc.ServerModule == "" {
			return Plan{}, errors.New("development launch requires a server module")
		}
		p.Executable = lc.Python
		if p.Executable == "" {
			p.Executable = DefaultPython(goos)
		}
		p.Args = []string{"-m", lc.ServerModule, PortFlag, portArg}
		p.Dir = lc.ProjectRoot
	default:
		return Plan{}, fmt.Errorf("cannot plan launch for mode %q", mode)
	}

	p.Overlay = env.Var{}
	if lc.SettingsEnvKey != "" && lc.SettingsModule != "" {
		p.Overlay[lc.SettingsEnvKey] = lc.SettingsModule
	}
	if lc.DataDirEnvKey != "" {
		p.Overlay[lc.DataDirEnvKey] = loc.DataDir
	}
	if lc.LogDirEnvKey != "" {
		p.Overlay[lc.LogDirEnvKey] = loc.LogDir
	}
	p.Env = env.FromList(lc.BaseEnv).SetAll(p.Overlay).List()
	return p, nil
}

// CheckPreconditions verifies that a packaged plan points at files that
// exist, naming the first missing one. Development plans rely on the ambient
// interpreter, whose absence surfaces as a launch failure instead.
func CheckPreconditions(fs afero.Fs, p Plan) error {
	if p.Mode != paths.ModePackaged {
		return nil
	}
	if ok, _ := afero.Exists(fs, p.Executable); !ok {
		return failure.PreconditionMissing("runtime executable", p.Executable)
	}
	if len(p.Args) > 0 {
		if ok, _ := afero.Exists(fs, p.Args[0]); !ok {
			return failure.PreconditionMissing("server entry script", p.Args[0])
		}
	}
	return nil
}

// Command builds the *exec.Cmd for p without starting it.
func (p Plan) Command() *exec.Cmd {
	// #nosec G204 -- executable and args come from the resolved launch plan
	cmd := exec.Command(p.Executable, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = p.Env
	return cmd
}

func (p Plan) String() string {
	return strings.TrimSpace(p.Executable + " " + strings.Join(p.Args, " "))
}
