// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/envrun/envrun/internal/app/execute"
)

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	s := &execute.RunSummary{
		RunID:     "run-1",
		Total:     3,
		Succeeded: 1,
		Failed:    2,
		Results: []execute.EnvironmentResult{
			{ID: "unit-py312", Status: execute.StatusPassed},
			{ID: "unit-py39", Status: execute.StatusFailed, FailedCommand: "pytest -x", ExitCode: 1},
			{ID: "lint", Status: execute.StatusError, Err: errors.New("environment lint: install_deps failed: exit status 1")},
		},
	}

	got := RenderSummary(s, false)
	for _, want := range []string{
		"total: 3  succeeded: 1  failed: 2",
		`unit-py39  command "pytest -x" exited with status 1`,
		"lint       environment lint: install_deps failed",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "unit-py312") {
		t.Errorf("summary lists a passed environment:\n%s", got)
	}
	if strings.Contains(got, "run-1") {
		t.Errorf("run ID shown without verbose:\n%s", got)
	}
	if !strings.Contains(RenderSummary(s, true), "run run-1") {
		t.Error("verbose summary has no run ID")
	}
}

func TestRenderStatusLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		res  execute.EnvironmentResult
		want string
	}{
		{execute.EnvironmentResult{ID: "a", Status: execute.StatusPassed}, "✓ a passed"},
		{execute.EnvironmentResult{ID: "a", Status: execute.StatusPassed, Reused: true}, "[reused]"},
		{execute.EnvironmentResult{ID: "b", Status: execute.StatusFailed}, "✗ b failed"},
		{execute.EnvironmentResult{ID: "c", Status: execute.StatusError}, "✗ c error"},
		{execute.EnvironmentResult{ID: "d", Status: execute.StatusSkipped}, "○ d skipped"},
	}

	for _, tt := range tests {
		if got := RenderStatusLine(&tt.res); !strings.Contains(got, tt.want) {
			t.Errorf("RenderStatusLine(%s) = %q, want it to contain %q", tt.res.Status, got, tt.want)
		}
	}
}
