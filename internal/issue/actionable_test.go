// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

// matrixNotFound mirrors the error the CLI returns when no matrix file is
// discovered.
func matrixNotFound() error {
	return NewErrorContext().
		WithOperation("find matrix file").
		WithResource("/work/project").
		WithSuggestion("Run 'envrun init' to create a starter envrun.cue").
		WithSuggestion("Pass an explicit file with --file").
		WithIssue(MatrixFileNotFoundID).
		Wrap(fmt.Errorf("no envrun.cue or envrun.toml in /work/project: %w", fs.ErrNotExist)).
		BuildError()
}

func TestActionableErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "discovery failure",
			err:  matrixNotFound(),
			want: "failed to find matrix file: /work/project: no envrun.cue or envrun.toml in /work/project: file does not exist",
		},
		{
			name: "report write failure",
			err: NewErrorContext().
				WithOperation("write report").
				WithResource("out/result.json").
				Wrap(errors.New("create report directory: not a directory")).
				BuildError(),
			want: "failed to write report: out/result.json: create report directory: not a directory",
		},
		{
			name: "config without resource",
			err:  NewErrorContext().WithOperation("validate configuration").Wrap(errors.New("bad engine")).BuildError(),
			want: "failed to validate configuration: bad engine",
		},
		{
			name: "operation only",
			err:  NewErrorContext().WithOperation("start environment container").BuildError(),
			want: "failed to start environment container",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	var ae *ActionableError
	if !errors.As(matrixNotFound(), &ae) {
		t.Fatal("BuildError() did not return an ActionableError")
	}

	plain := ae.Format(false)
	want := "failed to find matrix file: /work/project: no envrun.cue or envrun.toml in /work/project: file does not exist\n" +
		"\n  • Run 'envrun init' to create a starter envrun.cue" +
		"\n  • Pass an explicit file with --file"
	if plain != want {
		t.Errorf("Format(false) =\n%s\nwant\n%s", plain, want)
	}

	verbose := ae.Format(true)
	if !strings.HasPrefix(verbose, plain+"\n\nError chain:") {
		t.Errorf("Format(true) should extend the plain form:\n%s", verbose)
	}
	for _, line := range []string{"\n  1. no envrun.cue", "\n  2. file does not exist"} {
		if !strings.Contains(verbose, line) {
			t.Errorf("Format(true) missing %q:\n%s", line, verbose)
		}
	}

	bare := NewErrorContext().WithOperation("write report").Build()
	if got := bare.Format(true); got != "failed to write report" {
		t.Errorf("Format(true) without cause = %q", got)
	}
}

func TestActionableErrorIssueSurvivesWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("run: %w", matrixNotFound())

	var ae *ActionableError
	if !errors.As(wrapped, &ae) {
		t.Fatal("errors.As did not find the ActionableError")
	}
	if ae.Issue != MatrixFileNotFoundID {
		t.Errorf("Issue = %d, want %d", ae.Issue, MatrixFileNotFoundID)
	}
	if Get(ae.Issue) == nil {
		t.Errorf("issue %d is not in the catalog", ae.Issue)
	}
	if !errors.Is(wrapped, fs.ErrNotExist) {
		t.Error("cause is not reachable through errors.Is")
	}
}

func TestErrorContextBuild(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("envrun.cue").Build() != nil {
		t.Error("Build() without an operation should return nil")
	}
	if err := NewErrorContext().Wrap(errors.New("x")).BuildError(); err != nil {
		t.Errorf("BuildError() without an operation = %#v, want untyped nil", err)
	}

	ctx := NewErrorContext().WithOperation("load configuration").WithSuggestion("Check the CUE syntax")
	first := ctx.Build()
	second := ctx.WithSuggestion("Run 'envrun config show'").Wrap(errors.New("late")).Build()

	if len(first.Suggestions) != 1 || first.Cause != nil {
		t.Errorf("first error changed after Build(): %+v", first)
	}
	if len(second.Suggestions) != 2 || second.Cause == nil {
		t.Errorf("second error = %+v", second)
	}
}
