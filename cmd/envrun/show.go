// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/envrun/envrun/internal/app/execute"
	"github.com/envrun/envrun/internal/isolation"
	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/internal/runtime"

	"github.com/spf13/cobra"
)

// newShowCommand creates the `envrun show` command.
func newShowCommand(app *App) *cobra.Command {
	var file string

	showCmd := &cobra.Command{
		Use:   "show [ENV...]",
		Short: "Show the resolved configuration of environments",
		Long: `Show the resolved configuration of the selected environments,
including the dependency hash that decides whether an environment
directory is reused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return usageError(err)
			}
			mf, err := app.loadMatrix(file)
			if err != nil {
				return usageError(err)
			}
			envs, err := matrix.Resolve(mf, matrix.ParseSelection(args...))
			if err != nil {
				return usageError(err)
			}

			opts := builderOptions(mf, cfg, cfg.DefaultRuntime, execute.RunRequest{}, nil)
			builder := isolation.NewBuilder(opts, runtime.BuildRegistry(nil), nil)
			for i := range envs {
				if i > 0 {
					fmt.Fprintln(app.stdout)
				}
				fmt.Fprint(app.stdout, renderEnvironment(builder, &envs[i]))
			}
			return nil
		},
	}

	showCmd.Flags().StringVarP(&file, "file", "f", "", "matrix file (default: envrun.cue or envrun.toml in the current directory)")
	return showCmd
}

func renderEnvironment(builder *isolation.Builder, env *matrix.Environment) string {
	var sb strings.Builder

	sb.WriteString(TitleStyle.Render(env.ID))
	if env.Description != "" {
		sb.WriteString(SubtitleStyle.Render(" - " + env.Description))
	}
	sb.WriteString("\n")

	field := func(key, value string) {
		fmt.Fprintf(&sb, "  %s: %s\n", EnvStyle.Render(key), value)
	}
	list := func(key string, values []string) {
		if len(values) == 0 {
			field(key, SubtitleStyle.Render("(none)"))
			return
		}
		field(key, strings.Join(values, ", "))
	}

	field("base", env.Base)
	if env.Version != "" {
		field("version", env.Version)
	}
	rt := builder.RuntimeFor(env)
	field("runtime", string(rt))
	if env.Image != "" {
		field("image", env.Image)
	}
	list("extras", env.Extras)
	list("deps", env.Deps)
	field("skip_install", fmt.Sprintf("%v", env.SkipInstall))
	list("pass_env", env.PassEnv)

	if len(env.SetEnv) == 0 {
		field("set_env", SubtitleStyle.Render("(none)"))
	} else {
		field("set_env", "")
		for _, k := range slices.Sorted(maps.Keys(env.SetEnv)) {
			fmt.Fprintf(&sb, "    %s=%s\n", k, env.SetEnv[k])
		}
	}
	list("env_files", env.EnvFiles)
	if env.ChangeDir != "" {
		field("change_dir", env.ChangeDir)
	}
	list("depends", env.Depends)

	field("commands", "")
	for _, c := range env.Commands {
		prefix := "   "
		if c.IgnoreExit {
			prefix = " - "
		}
		fmt.Fprintf(&sb, "   %s%s\n", prefix, c.Script)
	}

	field("dependency_hash", builder.DependencySet(env).Hash())
	if rt != runtime.RuntimeTypeContainer {
		if dir, err := builder.EnvDir(env); err == nil {
			field("env_dir", dir)
		}
	}

	return sb.String()
}
