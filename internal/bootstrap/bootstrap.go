// Package bootstrap prepares the portable runtime shipped inside a packaged
// install: the bundled tree is copied once into a writable location and its
// relocation config is rewritten to point at the new home.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/deskhost/internal/failure"
	"github.com/spf13/afero"
)

// DefaultConfigFile is the relocation config inside a portable runtime.
const DefaultConfigFile = "pyvenv.cfg"

const partialSuffix = ".partial"

// Relocation describes how to patch the copied runtime.
type Relocation struct {
	ConfigFile string // relative to the runtime root; DefaultConfigFile when empty
}

// Result reports what EnsureRuntime did.
type Result struct {
	Copied  bool
	Patched bool
	Files   int
}

// Bootstrapper copies bundled runtimes. Fs defaults to the OS filesystem.
type Bootstrapper struct {
	Fs     afero.Fs
	Logger *slog.Logger
}

// New returns a Bootstrapper over fs.
func New(fs afero.Fs, logger *slog.Logger) *Bootstrapper {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{Fs: fs, Logger: logger}
}

// EnsureRuntime makes portableDir a relocated copy of bundledDir. It is a
// no-op when portableDir already exists. The copy is staged next to
// portableDir and renamed into place only after it was patched, so a failed
// run leaves nothing behind that a later run would mistake for a finished copy.
func (b *Bootstrapper) EnsureRuntime(ctx context.Context, bundledDir, portableDir string, reloc Relocation) (Result, error) {
	if ok, err := afero.Exists(b.Fs, portableDir); err != nil {
		return Result{}, failure.Bootstrap(portableDir, err)
	} else if ok {
		b.Logger.Debug("portable runtime present", slog.String("dir", portableDir))
		return Result{}, nil
	}
	if ok, _ := afero.DirExists(b.Fs, bundledDir); !ok {
		return Result{}, failure.PreconditionMissing("bundled runtime", bundledDir)
	}

	b.Logger.Info("copying bundled runtime",
		slog.String("from", bundledDir),
		slog.String("to", portableDir))

	staging := portableDir + partialSuffix
	if err := b.Fs.RemoveAll(staging); err != nil {
		return Result{}, failure.Bootstrap(staging, err)
	}
	res, err := b.stage(ctx, bundledDir, staging, portableDir, reloc)
	if err != nil {
		_ = b.Fs.RemoveAll(staging)
		return Result{}, failure.Bootstrap(portableDir, err)
	}
	if err := b.Fs.Rename(staging, portableDir); err != nil {
		_ = b.Fs.RemoveAll(staging)
		return Result{}, failure.Bootstrap(portableDir, fmt.Errorf("rename staged runtime: %w", err))
	}
	res.Copied = true
	b.Logger.Info("portable runtime ready",
		slog.String("dir", portableDir),
		slog.Int("files", res.Files),
		slog.Bool("patched", res.Patched))
	return res, nil
}

func (b *Bootstrapper) stage(ctx context.Context, src, staging, final string, reloc Relocation) (Result, error) {
	if err := b.Fs.MkdirAll(filepath.Dir(staging), 0o750); err != nil {
		return Result{}, err
	}
	n, err := copyTree(ctx, b.Fs, src, staging)
	if err != nil {
		return Result{}, err
	}
	res := Result{Files: n}

	name := reloc.ConfigFile
	if name == "" {
		name = DefaultConfigFile
	}
	patched, err := patchRelocation(b.Fs, filepath.Join(staging, name), final)
	if err != nil {
		return Result{}, fmt.Errorf("patch %s: %w", name, err)
	}
	if !patched {
		b.Logger.Warn("relocation config not found; runtime left unpatched",
			slog.String("file", filepath.Join(final, name)))
	}
	res.Patched = patched
	return res, nil
}

// copyTree copies src into dst preserving file modes and symlinks where the
// filesystem supports them. It returns the number of regular files copied.
func copyTree(ctx context.Context, fs afero.Fs, src, dst string) (int, error) {
	files := 0
	err := afero.Walk(fs, src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			return fs.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&os.ModeSymlink != 0:
			return copySymlink(fs, path, target)
		case info.Mode().IsRegular():
			files++
			return copyFile(fs, path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
	return files, err
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copySymlink(fs afero.Fs, src, dst string) error {
	reader, rok := fs.(afero.LinkReader)
	linker, lok := fs.(afero.Linker)
	if !rok || !lok {
		// No symlink support: materialize the target's content.
		info, err := fs.Stat(src)
		if err != nil {
			return err
		}
		return copyFile(fs, src, dst, info.Mode().Perm())
	}
	link, err := reader.ReadlinkIfPossible(src)
	if err != nil {
		return err
	}
	return linker.SymlinkIfPossible(link, dst)
}
