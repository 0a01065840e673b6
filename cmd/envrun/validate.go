// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/pkg/types"

	"github.com/spf13/cobra"
)

// newValidateCommand creates the `envrun validate` command.
func newValidateCommand(app *App) *cobra.Command {
	var file string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the matrix file",
		Long: `Parse the matrix file, check it against the schema, expand the
version axis and order the depends graph. Every problem found in the file
is reported, not just the first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mf, err := app.loadMatrix(file)
			if err != nil {
				return &ExitError{Code: types.ExitFailure, Err: err}
			}
			names := make([]string, len(mf.Envs))
			for i := range mf.Envs {
				names[i] = mf.Envs[i].Name
			}
			// Selecting every definition orders the whole depends graph,
			// not only the default selection.
			envs, err := matrix.Resolve(mf, matrix.ParseSelection(names...))
			if err != nil {
				return &ExitError{Code: types.ExitFailure, Err: err}
			}

			fmt.Fprintf(app.stdout, "%s %s is valid (%d definitions, %d environments)\n",
				SuccessStyle.Render("✓"), mf.FilePath, len(mf.Envs), len(envs))
			return nil
		},
	}

	validateCmd.Flags().StringVarP(&file, "file", "f", "", "matrix file (default: envrun.cue or envrun.toml in the current directory)")
	return validateCmd
}
