package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	os.Exit(exitCode(os.Stderr, root.Execute()))
}

// exitCode prints err unless the user has already seen it.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if !errors.Is(err, errReported) {
		_, _ = fmt.Fprintln(w, err)
	}
	return 1
}

// GlobalFlags holds the persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// buildRoot creates the command tree
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createPathsCommand(globalFlags),
		createBootstrapCommand(globalFlags),
		createProbeCommand(globalFlags),
		createStatusCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command, which runs the host
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "deskhost",
		Short: "Desktop host for the local admin backend",
		Long: `deskhost prepares the bundled runtime, starts the admin backend,
waits until it answers and opens its UI. Quitting deskhost stops the backend.

Examples:
  deskhost                              # run with defaults
  deskhost --config=deskhost.toml       # run with a config file
  deskhost paths                        # show resolved directories
  deskhost status --addr=127.0.0.1:8766 # query a running host`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdRun(cmd.Context(), RunFlags{
				ConfigPath: flags.ConfigPath,
				LogLevel:   flags.LogLevel,
			})
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	return root
}

// createPathsCommand creates the paths subcommand
func createPathsCommand(globalFlags *GlobalFlags) *cobra.Command {
	pathsFlags := &PathsFlags{}
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Show resolved directories and launch mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			pathsFlags.ConfigPath = globalFlags.ConfigPath
			return cmdPaths(cmd.OutOrStdout(), *pathsFlags)
		},
	}
	return cmd
}

// createBootstrapCommand creates the bootstrap subcommand
func createBootstrapCommand(globalFlags *GlobalFlags) *cobra.Command {
	bootstrapFlags := &BootstrapFlags{}
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Copy the bundled runtime into the data directory",
		Long: `Copy the bundled runtime into the data directory and patch its
relocation config. Does nothing when the portable runtime already exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapFlags.ConfigPath = globalFlags.ConfigPath
			bootstrapFlags.LogLevel = globalFlags.LogLevel
			return cmdBootstrap(cmd.Context(), cmd.OutOrStdout(), *bootstrapFlags)
		},
	}
	return cmd
}

// createProbeCommand creates the probe subcommand
func createProbeCommand(globalFlags *GlobalFlags) *cobra.Command {
	probeFlags := &ProbeFlags{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check once whether the backend answers",
		Long: `Send one readiness probe to the backend and print the outcome.

Examples:
  deskhost probe
  deskhost probe --port=9000
  deskhost probe --url=http://127.0.0.1:8765/admin/login/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			probeFlags.ConfigPath = globalFlags.ConfigPath
			return cmdProbe(cmd.Context(), cmd.OutOrStdout(), *probeFlags)
		},
	}
	cmd.Flags().StringVar(&probeFlags.URL, "url", "", "probe URL (default from config)")
	cmd.Flags().IntVar(&probeFlags.Port, "port", 0, "backend port (default from config)")
	cmd.Flags().DurationVar(&probeFlags.Timeout, "timeout", 0, "probe timeout (default readiness.probe_timeout)")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	statusFlags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running host's backend",
		Long: `Query the diagnostics API of a running host (enabled with status_addr).

Examples:
  deskhost status
  deskhost status --output=stderr --lines=20
  deskhost status --history=10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFlags.ConfigPath = globalFlags.ConfigPath
			return cmdStatus(cmd.Context(), cmd.OutOrStdout(), *statusFlags)
		},
	}
	cmd.Flags().StringVar(&statusFlags.Addr, "addr", "", "diagnostics address (default status_addr or 127.0.0.1:8766)")
	cmd.Flags().StringVar(&statusFlags.Output, "output", "", "print captured output of stream (stdout or stderr)")
	cmd.Flags().IntVar(&statusFlags.Lines, "lines", 0, "number of output lines (0 = all retained)")
	cmd.Flags().IntVar(&statusFlags.History, "history", 0, "print the N most recent lifecycle events")
	cmd.Flags().DurationVar(&statusFlags.Timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
