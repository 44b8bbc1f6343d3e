package process

import (
	"path/filepath"
	"testing"

	"github.com/loykin/deskhost/internal/failure"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = paths.Location{
	DataDir:            "/home/ann/.local/share/app",
	LogDir:             "/home/ann/.cache/app/log",
	ResourceRoot:       "/opt/app/resources",
	BundledRuntimeDir:  "/opt/app/resources/python",
	PortableRuntimeDir: "/home/ann/.local/share/app/python",
	ServerEntryPath:    "/opt/app/resources/desktop_admin/admin_server.py",
	ExecutablePath:     "/home/ann/.local/share/app/python/bin/python3",
}

var testLaunch = LaunchConfig{
	ServerModule:   "desktop_admin.admin_server",
	ProjectRoot:    "/src/app",
	SettingsEnvKey: "DJANGO_SETTINGS_MODULE",
	SettingsModule: "config.settings",
	DataDirEnvKey:  "APP_DATA_DIR",
	LogDirEnvKey:   "APP_LOG_DIR",
	BaseEnv:        []string{"PATH=/usr/bin", "DJANGO_SETTINGS_MODULE=leaked"},
	GOOS:           "linux",
}

func TestResolvePlan_Packaged(t *testing.T) {
	p, err := ResolvePlan(paths.ModePackaged, testLoc, 8765, testLaunch)
	require.NoError(t, err)
	assert.Equal(t, testLoc.ExecutablePath, p.Executable)
	assert.Equal(t, []string{testLoc.ServerEntryPath, "--port", "8765"}, p.Args)
	assert.Equal(t, testLoc.ResourceRoot, p.Dir)
	assert.Equal(t, []string{
		"APP_DATA_DIR=" + testLoc.DataDir,
		"APP_LOG_DIR=" + testLoc.LogDir,
		"DJANGO_SETTINGS_MODULE=config.settings",
		"PATH=/usr/bin",
	}, p.Env)
}

func TestResolvePlan_Development(t *testing.T) {
	p, err := ResolvePlan(paths.ModeDevelopment, testLoc, 9000, testLaunch)
	require.NoError(t, err)
	assert.Equal(t, "python3", p.Executable)
	assert.Equal(t, []string{"-m", "desktop_admin.admin_server", "--port", "9000"}, p.Args)
	assert.Equal(t, "/src/app", p.Dir)
	assert.Equal(t, "config.settings", p.Overlay["DJANGO_SETTINGS_MODULE"])

	lc := testLaunch
	lc.GOOS = "windows"
	p, err = ResolvePlan(paths.ModeDevelopment, testLoc, 9000, lc)
	require.NoError(t, err)
	assert.Equal(t, "python", p.Executable)

	lc.Python = "/opt/venv/bin/python"
	p, err = ResolvePlan(paths.ModeDevelopment, testLoc, 9000, lc)
	require.NoError(t, err)
	assert.Equal(t, "/opt/venv/bin/python", p.Executable)
	assert.Equal(t, "/opt/venv/bin/python -m desktop_admin.admin_server --port 9000", p.String())
}

func TestResolvePlan_Invalid(t *testing.T) {
	_, err := ResolvePlan(paths.ModeAuto, testLoc, 8765, testLaunch)
	assert.Error(t, err)
	_, err = ResolvePlan(paths.ModePackaged, testLoc, 0, testLaunch)
	assert.Error(t, err)
	_, err = ResolvePlan(paths.ModePackaged, paths.Location{}, 8765, testLaunch)
	assert.Error(t, err)
	_, err = ResolvePlan(paths.ModeDevelopment, testLoc, 8765, LaunchConfig{})
	assert.Error(t, err)
}

func TestResolvePlan_Pure(t *testing.T) {
	a, err := ResolvePlan(paths.ModePackaged, testLoc, 8765, testLaunch)
	require.NoError(t, err)
	b, err := ResolvePlan(paths.ModePackaged, testLoc, 8765, testLaunch)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCheckPreconditions(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := ResolvePlan(paths.ModePackaged, testLoc, 8765, testLaunch)
	require.NoError(t, err)

	err = CheckPreconditions(fs, p)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindPreconditionMissing))
	assert.Contains(t, err.Error(), testLoc.ExecutablePath)

	require.NoError(t, fs.MkdirAll(filepath.Dir(testLoc.ExecutablePath), 0o755))
	require.NoError(t, afero.WriteFile(fs, testLoc.ExecutablePath, []byte("x"), 0o755))
	err = CheckPreconditions(fs, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), testLoc.ServerEntryPath)

	require.NoError(t, fs.MkdirAll(filepath.Dir(testLoc.ServerEntryPath), 0o755))
	require.NoError(t, afero.WriteFile(fs, testLoc.ServerEntryPath, []byte("x"), 0o644))
	assert.NoError(t, CheckPreconditions(fs, p))

	dev, err := ResolvePlan(paths.ModeDevelopment, testLoc, 8765, testLaunch)
	require.NoError(t, err)
	assert.NoError(t, CheckPreconditions(afero.NewMemMapFs(), dev))
}
