// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"errors"
	"slices"
	"testing"
)

func TestConcreteID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     string
		version string
		prefix  string
		want    string
	}{
		{"numeric version", "coretest", "3.10", "py", "coretest-py310"},
		{"single digit", "coretest", "3.9", "py", "coretest-py39"},
		{"named interpreter", "coretest", "pypy3.10", "py", "coretest-pypy310"},
		{"empty prefix", "unit", "1.22", "", "unit-122"},
		{"no version", "lint", "", "py", "lint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ConcreteID(tt.env, tt.version, tt.prefix); got != tt.want {
				t.Errorf("ConcreteID(%q, %q, %q) = %q, want %q", tt.env, tt.version, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestDefinitionConcreteIDs(t *testing.T) {
	t.Parallel()

	def := Definition{Name: "coretest", Versions: []string{"3.9", "3.10"}}
	got := def.ConcreteIDs("py")
	want := []string{"coretest-py39", "coretest-py310"}
	if !slices.Equal(got, want) {
		t.Errorf("ConcreteIDs() = %v, want %v", got, want)
	}

	plain := Definition{Name: "lint"}
	if got := plain.ConcreteIDs("py"); !slices.Equal(got, []string{"lint"}) {
		t.Errorf("ConcreteIDs() without versions = %v, want [lint]", got)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entry  string
		script string
		ignore bool
	}{
		{"pytest", "pytest", false},
		{"- pip-audit", "pip-audit", true},
		{"-\tpip-audit --strict", "pip-audit --strict", true},
		{"  - echo hi", "echo hi", true},
		{"-x", "-x", false},
		{"echo a - b", "echo a - b", false},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			t.Parallel()

			got := ParseCommand(tt.entry)
			if got.Script != tt.script || got.IgnoreExit != tt.ignore {
				t.Errorf("ParseCommand(%q) = %+v, want {Script:%q IgnoreExit:%v}", tt.entry, got, tt.script, tt.ignore)
			}
		})
	}
}

func TestEffectiveRuntime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		image    string
		declared RuntimeMode
		fallback RuntimeMode
		want     RuntimeMode
	}{
		{"default native", "", "", "", RuntimeNative},
		{"fallback used", "", "", RuntimeVirtual, RuntimeVirtual},
		{"explicit wins", "", RuntimeVirtual, RuntimeNative, RuntimeVirtual},
		{"image implies container", "python:3.12", RuntimeNative, RuntimeVirtual, RuntimeContainer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := EffectiveRuntime(tt.image, tt.declared, tt.fallback); got != tt.want {
				t.Errorf("EffectiveRuntime(%q) = %q, want %q", tt.fallback, got, tt.want)
			}
		})
	}
}

func TestRuntimeModeIsValid(t *testing.T) {
	t.Parallel()

	for _, mode := range []RuntimeMode{RuntimeNative, RuntimeVirtual, RuntimeContainer} {
		if ok, errs := mode.IsValid(); !ok || len(errs) != 0 {
			t.Errorf("%q.IsValid() = %v, %v; want true", mode, ok, errs)
		}
	}

	ok, errs := RuntimeMode("wasm").IsValid()
	if ok || len(errs) != 1 {
		t.Fatalf("IsValid() = %v, %v; want false with one error", ok, errs)
	}
	if !errors.Is(errs[0], ErrInvalidRuntimeMode) {
		t.Errorf("error %v does not wrap ErrInvalidRuntimeMode", errs[0])
	}
	var rtErr *InvalidRuntimeModeError
	if !errors.As(errs[0], &rtErr) || rtErr.Value != "wasm" {
		t.Errorf("errors.As() = %v, want InvalidRuntimeModeError{wasm}", rtErr)
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	mf := &Matrixfile{FilePath: "/project/envrun.cue"}
	if got := mf.ResolvePath(".envrun"); got != "/project/.envrun" {
		t.Errorf("ResolvePath(.envrun) = %q", got)
	}
	if got := mf.ResolvePath("/abs/dir"); got != "/abs/dir" {
		t.Errorf("ResolvePath(/abs/dir) = %q", got)
	}

	inMemory := &Matrixfile{}
	if got := inMemory.BaseDir(); got != "." {
		t.Errorf("BaseDir() without FilePath = %q, want .", got)
	}
}
