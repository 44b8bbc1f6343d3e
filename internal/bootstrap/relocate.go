package bootstrap

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// buildRoot derives the absolute root the runtime was built under from the
// "home" key of a pyvenv.cfg-style file. home names the directory holding the
// interpreter, which is <root>/bin on unix layouts and <root> on windows.
func buildRoot(cfg []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(cfg))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "home") {
			continue
		}
		home := strings.TrimRight(strings.TrimSpace(val), `/\`)
		if home == "" {
			return ""
		}
		base := home[strings.LastIndexAny(home, `/\`)+1:]
		if strings.EqualFold(base, "bin") {
			return home[:len(home)-len(base)-1]
		}
		return home
	}
	return ""
}

// patchRelocation rewrites every occurrence of the recorded build root in
// the config at path to newRoot. It returns false when the file is absent.
func patchRelocation(fs afero.Fs, path, newRoot string) (bool, error) {
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	info, err := fs.Stat(path)
	if err != nil {
		return false, err
	}

	root := buildRoot(data)
	if root == "" || root == newRoot {
		return true, nil
	}
	patched := replaceRoot(data, []byte(root), []byte(filepath.Clean(newRoot)))
	return true, afero.WriteFile(fs, path, patched, info.Mode().Perm())
}

// replaceRoot replaces root with newRoot only where it is a whole path or a
// leading part of one: /build/py matches /build/py and /build/py/bin but not
// /build/pyx or /x/build/py.
func replaceRoot(data, root, newRoot []byte) []byte {
	var out []byte
	last := 0
	for i := 0; i+len(root) <= len(data); {
		j := bytes.Index(data[i:], root)
		if j < 0 {
			break
		}
		start, end := i+j, i+j+len(root)
		before := start == 0 || !isPathByte(data[start-1])
		after := end == len(data) || data[end] == '/' || data[end] == '\\' || !isPathByte(data[end])
		if !before || !after {
			i = start + 1
			continue
		}
		out = append(out, data[last:start]...)
		out = append(out, newRoot...)
		last, i = end, end
	}
	if out == nil {
		return data
	}
	return append(out, data[last:]...)
}

func isPathByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(`/\._-+~`, c) >= 0
}
