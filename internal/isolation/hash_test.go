// SPDX-License-Identifier: MPL-2.0

package isolation

import "testing"

func TestDependencySetHash(t *testing.T) {
	t.Parallel()

	base := DependencySet{
		Version:     "3.10",
		Extras:      []string{"test", "docs"},
		Deps:        []string{"pytest>=7", "coverage"},
		PackageRoot: "/src/pkg",
	}

	tests := []struct {
		name     string
		other    DependencySet
		wantSame bool
	}{
		{"identical", base, true},
		{"reordered extras", DependencySet{Version: "3.10", Extras: []string{"docs", "test"}, Deps: base.Deps, PackageRoot: base.PackageRoot}, true},
		{"reordered deps", DependencySet{Version: "3.10", Extras: base.Extras, Deps: []string{"coverage", "pytest>=7"}, PackageRoot: base.PackageRoot}, true},
		{"duplicate extra", DependencySet{Version: "3.10", Extras: []string{"test", "docs", "test"}, Deps: base.Deps, PackageRoot: base.PackageRoot}, true},
		{"version", DependencySet{Version: "3.11", Extras: base.Extras, Deps: base.Deps, PackageRoot: base.PackageRoot}, false},
		{"extra added", DependencySet{Version: "3.10", Extras: []string{"test", "docs", "all"}, Deps: base.Deps, PackageRoot: base.PackageRoot}, false},
		{"skip install", DependencySet{Version: "3.10", Extras: base.Extras, Deps: base.Deps, SkipInstall: true, PackageRoot: base.PackageRoot}, false},
		{"package root", DependencySet{Version: "3.10", Extras: base.Extras, Deps: base.Deps, PackageRoot: "/elsewhere"}, false},
		{"image", DependencySet{Version: "3.10", Extras: base.Extras, Deps: base.Deps, PackageRoot: base.PackageRoot, Image: "python:3.10"}, false},
		{"installer script", DependencySet{Version: "3.10", Extras: base.Extras, Deps: base.Deps, PackageRoot: base.PackageRoot, Scripts: Scripts{StepCreate: "uv venv $ENVRUN_ENV_DIR"}}, false},
		// Moving a value between lists must not collide.
		{"extra moved to deps", DependencySet{Version: "3.10", Extras: []string{"test"}, Deps: []string{"docs", "pytest>=7", "coverage"}, PackageRoot: base.PackageRoot}, false},
	}

	want := base.Hash()
	if len(want) != 64 {
		t.Fatalf("Hash() length = %d, want 64 hex chars", len(want))
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.other.Hash(); (got == want) != tt.wantSame {
				t.Errorf("Hash() same = %v, want %v", got == want, tt.wantSame)
			}
		})
	}
}

func TestDependencySetHashDoesNotMutate(t *testing.T) {
	t.Parallel()

	extras := []string{"b", "a"}
	DependencySet{Extras: extras}.Hash()
	if extras[0] != "b" {
		t.Errorf("Hash() reordered caller slice: %v", extras)
	}
}

func TestDependencySetHashScripts(t *testing.T) {
	t.Parallel()

	set := func(scripts Scripts) string {
		return DependencySet{Version: "3.12", Scripts: scripts}.Hash()
	}
	pip := Scripts{
		StepCreate:         `"$ENVRUN_PYTHON" -m venv "$ENVRUN_ENV_DIR"`,
		StepInstallPackage: `"$ENVRUN_ENV_DIR/bin/python" -m pip install "$ENVRUN_PACKAGE_ROOT"`,
	}

	if set(pip) == set(Scripts{StepCreate: pip[StepCreate], StepInstallPackage: "uv pip install ."}) {
		t.Error("changing an installer script kept the hash")
	}
	if set(pip) != set(Scripts{StepCreate: "  " + pip[StepCreate] + "\n", StepInstallPackage: pip[StepInstallPackage]}) {
		t.Error("surrounding whitespace changed the hash")
	}
	// The script moves between steps: same text, different meaning.
	if set(Scripts{StepCreate: "x"}) == set(Scripts{StepInstallDeps: "x"}) {
		t.Error("script step is not part of the hash")
	}
}
