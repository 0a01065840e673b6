// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/envrun/envrun/pkg/types"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the envrun command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "envrun",
		Short: "Run commands across a matrix of isolated environments",
		Long: TitleStyle.Render("envrun") + SubtitleStyle.Render(" - Run commands across a matrix of isolated environments") + `

envrun reads a declarative environment matrix (envrun.cue or envrun.toml),
expands it over a version axis, installs each environment's dependencies
into an isolated directory or container, and runs its commands in order.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Create a matrix file with: envrun init
  2. Inspect the expanded environments with: envrun list
  3. Run them with: envrun run

` + SubtitleStyle.Render("Examples:") + `
  envrun run                      Run the default selection
  envrun run unit lint            Run every expansion of unit, plus lint
  envrun run -e unit-py312 -- -k smoke
                                  Pass arguments to the final command
  envrun run -p 4 --report out.json
                                  Run four environments at a time
  envrun show unit-py312          Show one resolved environment`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err == nil && !cmd.Flags().Changed("verbose") {
				app.verbose = cfg.UI.Verbose
			}
			app.configureLogging()
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/envrun/config.cue)")

	rootCmd.AddCommand(newRunCommand(app))
	rootCmd.AddCommand(newListCommand(app))
	rootCmd.AddCommand(newShowCommand(app))
	rootCmd.AddCommand(newValidateCommand(app))
	rootCmd.AddCommand(newInitCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))
	rootCmd.AddCommand(newCompletionCommand())

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the status the command chose.
// This is called by main.main().
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(types.ExitFailure))
	}

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(app.handleError),
	); err != nil {
		os.Exit(int(exitCodeFor(err)))
	}
}

// exitCodeFor maps a command error to the process exit status.
func exitCodeFor(err error) types.ExitCode {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return types.ExitFailure
}

// handleError prints command errors. Errors envrun raised itself are shown
// with their suggestions and catalog guidance; flag and argument errors keep
// fang's default rendering.
func (a *App) handleError(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		fang.DefaultErrorHandler(w, styles, err)
		return
	}
	if exitErr.Err == nil {
		return
	}
	renderError(w, exitErr.Err, a.verbose, a.colorScheme())
}
