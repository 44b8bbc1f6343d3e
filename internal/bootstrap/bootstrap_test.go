package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/loykin/deskhost/internal/failure"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundled = "/opt/app/resources/python"
const portable = "/home/ann/.local/share/app/python"

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seedRuntime(t *testing.T, fs afero.Fs) {
	t.Helper()
	files := map[string]string{
		"bin/python3":             "#!interp",
		"lib/python3.12/os.py":    "import sys",
		"lib/python3.12/site.py":  "# site",
		"pyvenv.cfg":              "home = /build/cpython/install/bin\ninclude-system-site-packages = false\nexecutable = /build/cpython/install/bin/python3.12\ncommand = /build/cpython/install/bin/python3 -m venv /build/cpython/install\n",
		"share/man/man1/python.1": "man",
	}
	for rel, body := range files {
		p := filepath.Join(bundled, rel)
		require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, afero.WriteFile(fs, p, []byte(body), 0o644))
	}
	require.NoError(t, fs.Chmod(filepath.Join(bundled, "bin/python3"), 0o755))
}

func snapshot(t *testing.T, fs afero.Fs, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		b, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[rel] = string(b)
		return nil
	}))
	return out
}

func TestEnsureRuntime_CopiesAndPatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedRuntime(t, fs)
	b := New(fs, quietLogger())

	res, err := b.EnsureRuntime(context.Background(), bundled, portable, Relocation{})
	require.NoError(t, err)
	assert.True(t, res.Copied)
	assert.True(t, res.Patched)
	assert.Equal(t, 5, res.Files)

	cfg, err := afero.ReadFile(fs, filepath.Join(portable, "pyvenv.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "home = "+portable+"/bin\n")
	assert.Contains(t, string(cfg), "executable = "+portable+"/bin/python3.12\n")
	assert.NotContains(t, string(cfg), "/build/cpython/install")

	body, err := afero.ReadFile(fs, filepath.Join(portable, "lib/python3.12/os.py"))
	require.NoError(t, err)
	assert.Equal(t, "import sys", string(body))

	info, err := fs.Stat(filepath.Join(portable, "bin/python3"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	ok, _ := afero.Exists(fs, portable+partialSuffix)
	assert.False(t, ok, "staging directory must not survive")
}

func TestEnsureRuntime_Idempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedRuntime(t, fs)
	b := New(fs, quietLogger())

	_, err := b.EnsureRuntime(context.Background(), bundled, portable, Relocation{})
	require.NoError(t, err)
	first := snapshot(t, fs, portable)

	// a changed bundle must not leak into an existing copy
	require.NoError(t, afero.WriteFile(fs, filepath.Join(bundled, "lib/python3.12/os.py"), []byte("changed"), 0o644))

	res, err := b.EnsureRuntime(context.Background(), bundled, portable, Relocation{})
	require.NoError(t, err)
	assert.False(t, res.Copied)
	assert.Equal(t, first, snapshot(t, fs, portable))
}

func TestEnsureRuntime_MissingConfigWarnsAndContinues(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedRuntime(t, fs)
	require.NoError(t, fs.Remove(filepath.Join(bundled, "pyvenv.cfg")))

	res, err := New(fs, quietLogger()).EnsureRuntime(context.Background(), bundled, portable, Relocation{})
	require.NoError(t, err)
	assert.True(t, res.Copied)
	assert.False(t, res.Patched)
}

func TestEnsureRuntime_CustomConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedRuntime(t, fs)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(bundled, "etc/reloc.cfg"), []byte("home = /b/root\nprefix = /b/root/lib\n"), 0o644))

	res, err := New(fs, quietLogger()).EnsureRuntime(context.Background(), bundled, portable, Relocation{ConfigFile: "etc/reloc.cfg"})
	require.NoError(t, err)
	assert.True(t, res.Patched)
	cfg, _ := afero.ReadFile(fs, filepath.Join(portable, "etc/reloc.cfg"))
	assert.Equal(t, "home = "+portable+"\nprefix = "+portable+"/lib\n", string(cfg))
}

func TestEnsureRuntime_MissingBundle(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := New(fs, quietLogger()).EnsureRuntime(context.Background(), bundled, portable, Relocation{})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindPreconditionMissing))
	assert.Contains(t, err.Error(), bundled)
}

func TestEnsureRuntime_CopyFailureLeavesNothing(t *testing.T) {
	base := afero.NewMemMapFs()
	seedRuntime(t, base)
	ro := afero.NewReadOnlyFs(base)

	_, err := New(ro, quietLogger()).EnsureRuntime(context.Background(), bundled, portable, Relocation{})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindRuntimeBootstrap))

	ok, _ := afero.Exists(base, portable)
	assert.False(t, ok)

	// a later run on a writable fs still performs the copy
	res, err := New(base, quietLogger()).EnsureRuntime(context.Background(), bundled, portable, Relocation{})
	require.NoError(t, err)
	assert.True(t, res.Copied)
}

func TestEnsureRuntime_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedRuntime(t, fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fs, quietLogger()).EnsureRuntime(ctx, bundled, portable, Relocation{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	ok, _ := afero.Exists(fs, portable)
	assert.False(t, ok)
}

func TestEnsureRuntime_OsFsSymlinks(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "bundle")
	dst := filepath.Join(root, "data", "python")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bin", "python3.12"), []byte("x"), 0o755))
	if err := os.Symlink("python3.12", filepath.Join(src, "bin", "python3")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := New(afero.NewOsFs(), quietLogger()).EnsureRuntime(context.Background(), src, dst, Relocation{})
	require.NoError(t, err)

	link, err := os.Readlink(filepath.Join(dst, "bin", "python3"))
	require.NoError(t, err)
	assert.Equal(t, "python3.12", link)

	var names []string
	entries, _ := os.ReadDir(filepath.Join(dst, "bin"))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"python3", "python3.12"}, names)
}

func TestBuildRoot(t *testing.T) {
	assert.Equal(t, "/build/x", buildRoot([]byte("home = /build/x/bin\n")))
	assert.Equal(t, `C:\build\py`, buildRoot([]byte("home = C:\\build\\py\n")))
	assert.Equal(t, "/b", buildRoot([]byte("version = 3.12\nHome=/b/bin/\n")))
	assert.Equal(t, "", buildRoot([]byte("version = 3.12\n")))
}

func TestReplaceRoot_PathBoundaries(t *testing.T) {
	cases := map[string]string{
		"home = /build/py/bin\n":            "home = /new/py/bin\n",
		"home = /build/py":                  "home = /new/py",
		"other = /build/pyx/lib\n":          "other = /build/pyx/lib\n",
		"nested = /x/build/py/lib\n":        "nested = /x/build/py/lib\n",
		`cmd = "/build/py/bin/python3" -m`:  `cmd = "/new/py/bin/python3" -m`,
		"path = /build/py/lib:/build/py\n":  "path = /new/py/lib:/new/py\n",
		"win = C:\\build\\py\\python.exe\n": "win = C:\\build\\py\\python.exe\n",
	}
	for in, want := range cases {
		assert.Equal(t, want, string(replaceRoot([]byte(in), []byte("/build/py"), []byte("/new/py"))), in)
	}
}

func TestPatchRelocation_LeavesLongerPathsAlone(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := "home = /build/py/bin\nexecutable = /build/py/bin/python3\nextra = /build/pyx/lib\n"
	require.NoError(t, afero.WriteFile(fs, "/rt/pyvenv.cfg", []byte(cfg), 0o600))

	found, err := patchRelocation(fs, "/rt/pyvenv.cfg", "/rt")
	require.NoError(t, err)
	assert.True(t, found)
	got, err := afero.ReadFile(fs, "/rt/pyvenv.cfg")
	require.NoError(t, err)
	assert.Equal(t, "home = /rt/bin\nexecutable = /rt/bin/python3\nextra = /build/pyx/lib\n", string(got))

	info, err := fs.Stat("/rt/pyvenv.cfg")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
