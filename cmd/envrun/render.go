// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/envrun/envrun/internal/app/execute"
)

// RenderStatusLine renders the one-line outcome of an environment.
func RenderStatusLine(res *execute.EnvironmentResult) string {
	id := EnvStyle.Render(res.ID)
	elapsed := SubtitleStyle.Render("(" + res.Duration.Round(time.Millisecond).String() + ")")

	switch res.Status {
	case execute.StatusPassed:
		line := fmt.Sprintf("%s %s passed %s", SuccessStyle.Render("✓"), id, elapsed)
		if res.Reused {
			line += " " + VerboseStyle.Render("[reused]")
		}
		return line
	case execute.StatusFailed:
		return fmt.Sprintf("%s %s failed %s", ErrorStyle.Render("✗"), id, elapsed)
	case execute.StatusError:
		return fmt.Sprintf("%s %s error %s", ErrorStyle.Render("✗"), id, elapsed)
	default:
		return fmt.Sprintf("%s %s %s", WarningStyle.Render("○"), id, WarningStyle.Render(string(res.Status)))
	}
}

// RenderSummary renders the run summary: the totals and, for each
// environment that did not pass, why.
func RenderSummary(s *execute.RunSummary, verbose bool) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(TitleStyle.Render("Summary"))
	if verbose {
		sb.WriteString(VerboseStyle.Render(fmt.Sprintf(" run %s, %s", s.RunID, s.Duration.Round(time.Millisecond))))
	}
	sb.WriteString("\n")

	counts := fmt.Sprintf("  total: %d  succeeded: %d  failed: %d", s.Total, s.Succeeded, s.Failed)
	if s.Success() {
		sb.WriteString(SuccessStyle.Render(counts))
	} else {
		sb.WriteString(counts)
	}
	sb.WriteString("\n")

	failures := s.Failures()
	width := 0
	for i := range failures {
		width = max(width, len(failures[i].ID))
	}
	for i := range failures {
		res := &failures[i]
		fmt.Fprintf(&sb, "  %s %s  %s\n",
			ErrorStyle.Render("✗"),
			EnvStyle.Render(fmt.Sprintf("%-*s", width, res.ID)),
			failureReason(res))
	}

	return sb.String()
}

func failureReason(res *execute.EnvironmentResult) string {
	switch res.Status {
	case execute.StatusFailed:
		return fmt.Sprintf("command %q exited with status %d", res.FailedCommand, res.ExitCode)
	case execute.StatusSkipped:
		if res.Err != nil {
			return "skipped: " + res.Err.Error()
		}
		return "skipped"
	default:
		if res.Err != nil {
			return res.Err.Error()
		}
		return string(res.Status)
	}
}
