// Package logger builds the host's slog loggers and the rotating file
// writers used for its own log and for captured backend output.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig configures the terminal logger.
type SlogConfig struct {
	Level      Level
	Format     Format
	Color      bool
	TimeStamps bool
	Source     bool
	Output     io.Writer // os.Stderr when nil
}

// FileConfig describes rotating log files.
// If StdoutPath/StderrPath are empty, and Dir is set, process files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. HostLog, when set, receives
// a plain-text copy of the host's own log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string
	StdoutPath string
	StderrPath string
	HostLog    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config is the single logging configuration of the host.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

func DefaultConfig() Config {
	return Config{
		Slog: SlogConfig{Level: LevelInfo, Format: FormatText, TimeStamps: true},
	}
}

// ParseLevel maps a level name to a slog level; unknown names are rejected.
func ParseLevel(s string) (slog.Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelInfo, "":
		return slog.LevelInfo, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (c SlogConfig) options() *slog.HandlerOptions {
	lvl, _ := ParseLevel(string(c.Level))
	return &slog.HandlerOptions{Level: lvl, AddSource: c.Source}
}

func (c SlogConfig) handler() slog.Handler {
	w := c.Output
	if w == nil {
		w = os.Stderr
	}
	opts := c.options()
	if c.Format == FormatJSON {
		if !c.TimeStamps {
			opts.ReplaceAttr = dropTime
		}
		return slog.NewJSONHandler(w, opts)
	}
	if c.Color {
		return NewColorTextHandler(w, opts, c.TimeStamps)
	}
	if !c.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	return slog.NewTextHandler(w, opts)
}

// NewSlogger returns the terminal logger.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.Slog.handler())
}

// NewHostLogger returns a logger writing to the terminal and, when
// File.HostLog is set, to that rotating file. The closer releases the file.
func (c Config) NewHostLogger() (*slog.Logger, io.Closer) {
	term := c.Slog.handler()
	if c.File.HostLog == "" {
		return slog.New(term), nopCloser{}
	}
	lw := c.File.rotating(c.File.HostLog)
	fileOpts := c.Slog.options()
	fileOpts.AddSource = false
	return slog.New(fanout{term, slog.NewTextHandler(lw, fileOpts)}), lw
}

// NewProcessLogger returns a JSON logger writing to Dir/<name>.log, or nil
// when no Dir is configured.
func (c Config) NewProcessLogger(name string) *slog.Logger {
	if c.File.Dir == "" {
		return nil
	}
	lw := c.File.rotating(filepath.Join(c.File.Dir, name+".log"))
	return slog.New(slog.NewJSONHandler(lw, c.Slog.options()))
}

// ProcessWriters returns io.WriteClosers for stdout and stderr of the named
// process. A stream without a path gets a nil writer.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if stdout == "" && c.File.Dir != "" {
		stdout = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.File.Dir != "" {
		stderr = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = c.File.rotating(stdout)
	}
	if stderr != "" {
		errW = c.File.rotating(stderr)
	}
	return outW, errW, nil
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
