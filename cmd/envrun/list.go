// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/envrun/envrun/internal/matrix"

	"github.com/spf13/cobra"
)

// newListCommand creates the `envrun list` command.
func newListCommand(app *App) *cobra.Command {
	var file string

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the expanded environments",
		Long: `List every environment the matrix file expands to.

Environments in the default selection are marked with *. With --verbose
the runtime, version and depends of each environment are shown too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mf, err := app.loadMatrix(file)
			if err != nil {
				return usageError(err)
			}
			all, err := matrix.Expand(mf)
			if err != nil {
				return usageError(err)
			}
			defaults, err := matrix.Resolve(mf, nil)
			if err != nil {
				return usageError(err)
			}
			fmt.Fprint(app.stdout, renderEnvironmentList(all, matrix.IDs(defaults), app.verbose))
			return nil
		},
	}

	listCmd.Flags().StringVarP(&file, "file", "f", "", "matrix file (default: envrun.cue or envrun.toml in the current directory)")
	return listCmd
}

func renderEnvironmentList(envs []matrix.Environment, defaults []string, verbose bool) string {
	var sb strings.Builder

	sb.WriteString(TitleStyle.Render("Environments"))
	sb.WriteString(SubtitleStyle.Render(fmt.Sprintf(" (%d)", len(envs))))
	sb.WriteString("\n\n")

	width := 0
	for i := range envs {
		width = max(width, len(envs[i].ID))
	}

	for i := range envs {
		env := &envs[i]
		marker := " "
		if slices.Contains(defaults, env.ID) {
			marker = SuccessStyle.Render("*")
		}
		fmt.Fprintf(&sb, "  %s %s", marker, EnvStyle.Render(fmt.Sprintf("%-*s", width, env.ID)))
		if env.Description != "" {
			sb.WriteString("  " + env.Description)
		}
		sb.WriteString("\n")

		if verbose {
			var details []string
			if env.Version != "" {
				details = append(details, "version "+env.Version)
			}
			details = append(details, "runtime "+runtimeLabel(env))
			if len(env.Depends) > 0 {
				details = append(details, "depends "+strings.Join(env.Depends, ", "))
			}
			fmt.Fprintf(&sb, "    %s%s\n", strings.Repeat(" ", width), VerboseStyle.Render(strings.Join(details, "; ")))
		}
	}

	return sb.String()
}

// runtimeLabel describes the runtime an environment declares. Environments
// without one use the configured default.
func runtimeLabel(env *matrix.Environment) string {
	switch {
	case env.Image != "":
		return "container (" + env.Image + ")"
	case env.Runtime != "":
		return string(env.Runtime)
	default:
		return "default"
	}
}
