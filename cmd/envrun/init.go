// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/envrun/envrun/pkg/matrixfile"

	"github.com/spf13/cobra"
)

// newInitCommand creates the `envrun init` command.
func newInitCommand(app *App) *cobra.Command {
	var (
		force  bool
		format string
	)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter matrix file in the current directory",
		Long: `Create a starter matrix file in the current directory.

The starter declares a versioned test environment together with lint,
type-check, audit and docs environments to adapt to your project.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runInit(format, force)
		},
	}

	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing matrix file")
	initCmd.Flags().StringVar(&format, "format", "cue", "file format: cue or toml")
	return initCmd
}

func (a *App) runInit(format string, force bool) error {
	var (
		filename string
		content  string
	)
	switch format {
	case "cue":
		filename = matrixfile.CUEFileName
		content = matrixfile.GenerateCUE(matrixfile.Starter())
	case "toml":
		filename = matrixfile.TOMLFileName
		var err error
		if content, err = matrixfile.GenerateTOML(matrixfile.Starter()); err != nil {
			return err
		}
	default:
		return usageError(fmt.Errorf("unsupported format %q (expected cue or toml)", format))
	}

	if _, err := os.Stat(filename); err == nil && !force {
		return usageError(fmt.Errorf("file '%s' already exists. Use --force to overwrite", filename))
	}

	if err := os.WriteFile(filename, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	absPath, _ := filepath.Abs(filename)
	fmt.Fprintf(a.stdout, "%s Created %s\n", SuccessStyle.Render("✓"), absPath)
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, SubtitleStyle.Render("Next steps:"))
	fmt.Fprintln(a.stdout, "  1. Edit the environments to match your project")
	fmt.Fprintln(a.stdout, "  2. Run 'envrun list' to see the expanded environments")
	fmt.Fprintln(a.stdout, "  3. Run 'envrun run' to run the default selection")

	return nil
}
