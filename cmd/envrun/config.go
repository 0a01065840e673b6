// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/envrun/envrun/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `envrun config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage envrun configuration",
		Long: `Manage envrun configuration.

Configuration is stored in:
  - Linux: $XDG_CONFIG_HOME/envrun/config.cue (default ~/.config/envrun/config.cue)
  - macOS: ~/Library/Application Support/envrun/config.cue
  - Windows: %APPDATA%\envrun\config.cue

Every key can be overridden with an ENVRUN_ environment variable, for
example ENVRUN_PARALLEL=4 or ENVRUN_UI_VERBOSE=true.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.showConfig(cmd.Context())
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configFilePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.initConfig()
		},
	})

	return cfgCmd
}

// configFilePath is the --config value or the default location.
func (a *App) configFilePath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigFilePath()
}

func (a *App) showConfig(ctx context.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return usageError(err)
	}

	keyStyle := EnvStyle
	valueStyle := SuccessStyle
	out := a.stdout

	fmt.Fprintln(out, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(out)
	if a.cfgFile != "" {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), a.cfgFile)
	} else {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(out)

	timeout := cfg.CommandTimeout
	if timeout == "" {
		timeout = "(none)"
	}
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("container_engine"), valueStyle.Render(string(cfg.ContainerEngine)))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("default_runtime"), valueStyle.Render(string(cfg.DefaultRuntime)))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("parallel"), valueStyle.Render(fmt.Sprintf("%d", cfg.Parallel)))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("command_timeout"), valueStyle.Render(timeout))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("default_pass_env"), valueStyle.Render(strings.Join(cfg.DefaultPassEnv, " ")))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("installer"))
	fmt.Fprintf(out, "  create: %s\n", valueStyle.Render(cfg.Installer.Create))
	fmt.Fprintf(out, "  install_deps: %s\n", valueStyle.Render(cfg.Installer.InstallDeps))
	fmt.Fprintf(out, "  install_package: %s\n", valueStyle.Render(cfg.Installer.InstallPackage))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("report"))
	fmt.Fprintf(out, "  max_output_bytes: %s\n", valueStyle.Render(fmt.Sprintf("%d", cfg.Report.MaxOutputBytes)))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("ui"))
	fmt.Fprintf(out, "  color_scheme: %s\n", valueStyle.Render(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(out, "  verbose: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.UI.Verbose)))

	return nil
}

func (a *App) initConfig() error {
	path, err := a.configFilePath()
	if err != nil {
		return err
	}

	created, err := config.CreateDefaultConfig(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		fmt.Fprintf(a.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
		return nil
	}

	fmt.Fprintf(a.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
