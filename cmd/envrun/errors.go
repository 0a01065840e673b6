// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/envrun/envrun/internal/app/execute"
	"github.com/envrun/envrun/internal/container"
	"github.com/envrun/envrun/internal/dag"
	"github.com/envrun/envrun/internal/isolation"
	"github.com/envrun/envrun/internal/issue"
	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/internal/runtime"
	"github.com/envrun/envrun/pkg/cueutil"
	"github.com/envrun/envrun/pkg/matrixfile"
)

// renderError writes err for the user: a styled card for selection errors,
// the actionable message otherwise, followed by the matching catalog issue.
func renderError(w io.Writer, err error, verbose bool, colorScheme string) {
	var selErr *matrix.SelectionError
	if errors.As(err, &selErr) {
		fmt.Fprint(w, RenderSelectionError(selErr))
	} else {
		fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
	}

	id := issueFor(err)
	if id == 0 {
		return
	}
	if catalogEntry := issue.Get(id); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render(colorScheme)
		if renderErr != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", id, "error", renderErr)
			return
		}
		fmt.Fprint(w, rendered)
	}
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors use their Format method, which adds the error chain in
// verbose mode.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// issueFor returns the catalog issue that explains err, or 0.
func issueFor(err error) issue.ID {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		return ae.Issue
	}

	var (
		cycleErr *dag.CycleError
		valErr   *cueutil.ValidationError
		valErrs  matrixfile.ValidationErrors
	)
	switch {
	case errors.Is(err, matrixfile.ErrNotFound):
		return issue.MatrixFileNotFoundID
	case errors.Is(err, matrix.ErrUnknownEnvironment):
		return issue.UnknownEnvironmentID
	case errors.As(err, &cycleErr):
		return issue.DependencyCycleID
	case errors.As(err, &valErrs), errors.As(err, &valErr):
		return issue.MatrixFileParseErrorID
	case errors.Is(err, isolation.ErrDependencyResolution):
		return issue.DependencyResolutionFailedID
	case errors.Is(err, execute.ErrCommandFailed):
		return issue.CommandFailedID
	case errors.Is(err, container.ErrEngineNotAvailable):
		return issue.ContainerEngineNotFoundID
	case errors.Is(err, runtime.ErrRuntimeNotAvailable):
		return issue.RuntimeNotAvailableID
	case errors.Is(err, fs.ErrPermission):
		return issue.PermissionDeniedID
	}
	return 0
}

// RenderSelectionError creates a styled error message for names that match
// no environment.
func RenderSelectionError(err *matrix.SelectionError) string {
	var sb strings.Builder

	noun := "environment"
	if len(err.Unknown) > 1 {
		noun = "environments"
	}
	sb.WriteString(renderHeaderStyle.Render("✗ Unknown " + noun + "!"))
	sb.WriteString("\n\n")

	quoted := make([]string, len(err.Unknown))
	for i, name := range err.Unknown {
		quoted[i] = EnvStyle.Render("'" + name + "'")
	}
	fmt.Fprintf(&sb, "No environment matches %s.\n\n", strings.Join(quoted, ", "))

	sb.WriteString(renderLabelStyle.Render("Available environments: "))
	if len(err.Known) > 0 {
		sb.WriteString(renderValueStyle.Render(strings.Join(err.Known, ", ")))
	} else {
		sb.WriteString(renderValueStyle.Render("(none)"))
	}
	sb.WriteString("\n\n")
	sb.WriteString(renderHintStyle.Render("Select by concrete ID (unit-py312) or by definition name (unit)."))
	sb.WriteString("\n")

	return sb.String()
}
