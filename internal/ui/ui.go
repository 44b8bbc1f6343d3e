// Package ui is the host's window: it shows the backend UI and explains
// fatal errors to the user.
package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/loykin/deskhost/internal/failure"
)

// Shell is what the host needs from its user interface.
type Shell interface {
	// Open shows the backend UI at url.
	Open(ctx context.Context, url string) error
	// ShowError presents a modal error. It returns once the user saw it.
	ShowError(r failure.Report)
}

// Runner starts an external command without waiting for it.
type Runner func(ctx context.Context, name string, args ...string) error

// Desktop opens the UI in the system browser and renders dialogs as a
// framed box on a terminal.
type Desktop struct {
	GOOS   string
	Out    io.Writer // dialogs; os.Stderr when nil
	Run    Runner    // startCommand when nil
	Logger *slog.Logger

	mu sync.Mutex
}

// NewDesktop returns a Desktop for the running OS.
func NewDesktop(logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{GOOS: runtime.GOOS, Out: os.Stderr, Run: startCommand, Logger: logger}
}

// Open launches the platform opener for url.
func (d *Desktop) Open(ctx context.Context, url string) error {
	goos := d.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	name, args := openerCommand(goos, url)
	run := d.Run
	if run == nil {
		run = startCommand
	}
	if err := run(ctx, name, args...); err != nil {
		return fmt.Errorf("open %s with %s: %w", url, name, err)
	}
	if d.Logger != nil {
		d.Logger.Info("backend UI opened", slog.String("url", url))
	}
	return nil
}

// ShowError writes r as a dialog box to Out.
func (d *Desktop) ShowError(r failure.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.Out
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprintln(w, RenderDialog(r))
}

// openerCommand is the command that hands url to the default browser.
func openerCommand(goos, url string) (string, []string) {
	switch goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		return "open", []string{url}
	default:
		return "xdg-open", []string{url}
	}
}

func startCommand(ctx context.Context, name string, args ...string) error {
	// #nosec G204 -- opener is fixed per platform, url is built by the host
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
