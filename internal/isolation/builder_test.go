// SPDX-License-Identifier: MPL-2.0

package isolation

import (
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/envrun/envrun/internal/container"
	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/internal/runtime"
	"github.com/envrun/envrun/internal/testutil"
	"github.com/envrun/envrun/internal/testutil/matrixtest"
	"github.com/envrun/envrun/pkg/matrixfile"
)

// recordingInstaller records every step it runs.
type recordingInstaller struct {
	mu     sync.Mutex
	steps  []Step
	vars   []map[string]string
	failOn Step
	block  chan struct{}
}

func (r *recordingInstaller) Run(_ context.Context, step Step, vars map[string]string) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	r.vars = append(r.vars, maps.Clone(vars))
	if step == r.failOn {
		return errors.New("pip exploded")
	}
	return nil
}

func (r *recordingInstaller) recorded() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}

var fakeEnviron = testutil.Environ("PATH=/usr/bin:/bin", "HOME=/home/dev", "CI=true", "SECRET=x")

func newTestBuilder(t *testing.T, installer Installer, mutate func(*Options)) *Builder {
	t.Helper()
	root := t.TempDir()
	opts := Options{
		WorkDir:        filepath.Join(root, ".envrun"),
		PackageRoot:    root,
		BaseDir:        root,
		DefaultRuntime: matrixfile.RuntimeVirtual,
		DefaultPassEnv: []string{"PATH", "HOME"},
		Installer:      installer,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewBuilder(opts, runtime.BuildRegistry(nil), &runtime.EnvBuilder{Environ: fakeEnviron})
}

func coretest() matrix.Environment {
	return matrix.Environment{
		ID:      "coretest-py310",
		Base:    "coretest",
		Version: "3.10",
		Extras:  []string{"test"},
		Deps:    []string{"pytest>=7"},
		PassEnv: []string{"CI"},
		SetEnv:  map[string]string{"PYTHONHASHSEED": "0", "HOME": "/override"},
	}
}

func TestBuildFreshEnvironment(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{}
	b := newTestBuilder(t, inst, nil)

	ictx, err := b.Build(context.Background(), coretest())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if want := []Step{StepCreate, StepInstallDeps, StepInstallPackage}; !slices.Equal(inst.recorded(), want) {
		t.Errorf("steps = %v, want %v", inst.recorded(), want)
	}
	if ictx.Reused {
		t.Error("fresh build reported as reused")
	}
	if ictx.Runtime != runtime.RuntimeTypeVirtual {
		t.Errorf("Runtime = %q", ictx.Runtime)
	}
	if got := readMarker(ictx.EnvDir); got != ictx.Hash {
		t.Errorf("marker = %q, want %q", got, ictx.Hash)
	}

	vars := inst.vars[0]
	for key, want := range map[string]string{
		VarEnvDir:      ictx.EnvDir,
		VarVersion:     "3.10",
		VarPython:      "python3.10",
		VarExtras:      "test",
		VarDeps:        "'pytest>=7'",
		VarPackageRoot: b.opts.PackageRoot,
	} {
		if vars[key] != want {
			t.Errorf("installer var %s = %q, want %q", key, vars[key], want)
		}
	}

	if ictx.Vars["PYTHONHASHSEED"] != "0" || ictx.Vars["CI"] != "true" {
		t.Errorf("Vars = %v", ictx.Vars)
	}
	if ictx.Vars["HOME"] != "/override" {
		t.Errorf("set_env should beat pass-through, HOME = %q", ictx.Vars["HOME"])
	}
	if _, ok := ictx.Vars["SECRET"]; ok {
		t.Error("variable outside the allow-list leaked")
	}
	if !strings.HasPrefix(ictx.Vars["PATH"], ictx.BinDir+string(os.PathListSeparator)) {
		t.Errorf("PATH = %q, want bin dir first", ictx.Vars["PATH"])
	}
}

func TestBuildReusesMatchingEnvironment(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{}
	b := newTestBuilder(t, inst, nil)

	if _, err := b.Build(context.Background(), coretest()); err != nil {
		t.Fatal(err)
	}
	before := len(inst.recorded())

	env := coretest()
	env.Extras = []string{"test"}
	ictx, err := b.Build(context.Background(), env)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !ictx.Reused {
		t.Error("second build not reused")
	}
	if len(inst.recorded()) != before {
		t.Errorf("installer ran on reuse: %v", inst.recorded()[before:])
	}

	env.Deps = append(env.Deps, "hypothesis")
	ictx, err = b.Build(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if ictx.Reused {
		t.Error("changed deps must rebuild")
	}
}

func TestBuildRecreate(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{}
	first := newTestBuilder(t, inst, nil)
	built, err := first.Build(context.Background(), coretest())
	if err != nil {
		t.Fatal(err)
	}

	opts := first.opts
	opts.Recreate = true
	second := NewBuilder(opts, runtime.BuildRegistry(nil), &runtime.EnvBuilder{Environ: fakeEnviron})

	stale := filepath.Join(built.EnvDir, "stale.txt")
	if err := os.WriteFile(stale, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ictx, err := second.Build(context.Background(), coretest())
	if err != nil {
		t.Fatal(err)
	}
	if ictx.Reused || len(inst.recorded()) != 6 {
		t.Errorf("Recreate did not reinstall: reused=%v steps=%v", ictx.Reused, inst.recorded())
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Recreate kept old directory contents")
	}
}

func TestBuildSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  matrix.Environment
		want []Step
	}{
		{"skip install with deps", matrixtest.NewEnvironment("lint", matrixtest.WithSkipInstall(), matrixtest.WithDeps("ruff")), []Step{StepCreate, StepInstallDeps}},
		{"no deps", matrixtest.NewEnvironment("unit"), []Step{StepCreate, StepInstallPackage}},
		{"skip install without deps", matrixtest.NewEnvironment("bare", matrixtest.WithSkipInstall()), []Step{StepCreate}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inst := &recordingInstaller{}
			if _, err := newTestBuilder(t, inst, nil).Build(context.Background(), tt.env); err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(inst.recorded(), tt.want) {
				t.Errorf("steps = %v, want %v", inst.recorded(), tt.want)
			}
		})
	}
}

func TestBuildStepFailure(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{failOn: StepInstallDeps}
	b := newTestBuilder(t, inst, nil)

	_, err := b.Build(context.Background(), coretest())
	var depErr *DependencyResolutionError
	if !errors.As(err, &depErr) {
		t.Fatalf("Build() error = %v, want DependencyResolutionError", err)
	}
	if depErr.EnvID != "coretest-py310" || depErr.Step != StepInstallDeps {
		t.Errorf("error = %+v", depErr)
	}
	if !errors.Is(err, ErrDependencyResolution) {
		t.Error("error does not wrap ErrDependencyResolution")
	}
	if slices.Contains(inst.recorded(), StepInstallPackage) {
		t.Error("steps continued after a failure")
	}
	env := coretest()
	dir, err := b.EnvDir(&env)
	if err != nil {
		t.Fatal(err)
	}
	if readMarker(dir) != "" {
		t.Error("failed build wrote a marker")
	}
}

func TestBuildMissingEnvFile(t *testing.T) {
	t.Parallel()

	env := coretest()
	env.EnvFiles = []string{"missing.env"}
	_, err := newTestBuilder(t, &recordingInstaller{}, nil).Build(context.Background(), env)
	var depErr *DependencyResolutionError
	if !errors.As(err, &depErr) || depErr.Step != StepEnvironment {
		t.Fatalf("Build() error = %v, want environment step failure", err)
	}
}

// lintPy310 has the dependency set of coretest under another name.
func lintPy310() matrix.Environment {
	env := coretest()
	env.ID = "lint-py310"
	env.Base = "lint"
	env.Extras = []string{"test"}
	env.SetEnv = map[string]string{"LINT": "1"}
	return env
}

func TestBuildSharesDirectoryByDependencySet(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{}
	b := newTestBuilder(t, inst, nil)

	first, err := b.Build(context.Background(), coretest())
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(context.Background(), lintPy310())
	if err != nil {
		t.Fatal(err)
	}

	if first.EnvDir != second.EnvDir || first.Hash != second.Hash {
		t.Errorf("equal dependency sets got different dirs: %q, %q", first.EnvDir, second.EnvDir)
	}
	if want := filepath.Join(b.opts.WorkDir, "envs", first.Hash); first.EnvDir != want {
		t.Errorf("EnvDir = %q, want %q", first.EnvDir, want)
	}
	if first.Reused || !second.Reused {
		t.Errorf("reused = %v, %v; want false, true", first.Reused, second.Reused)
	}
	if n := len(inst.recorded()); n != 3 {
		t.Errorf("installer ran %d steps, want one install", n)
	}
	if second.Vars[runtime.EnvVarEnvName] != "lint-py310" || second.Vars["LINT"] != "1" {
		t.Errorf("shared directory leaked variables: %v", second.Vars)
	}

	other := coretest()
	other.ID = "coretest-py311"
	other.Version = "3.11"
	third, err := b.Build(context.Background(), other)
	if err != nil {
		t.Fatal(err)
	}
	if third.EnvDir == first.EnvDir {
		t.Error("different dependency sets share a directory")
	}
}

func TestBuildRecreateInstallsSharedDirectoryOnce(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{}
	b := newTestBuilder(t, inst, func(o *Options) { o.Recreate = true })

	for _, env := range []matrix.Environment{coretest(), lintPy310()} {
		if _, err := b.Build(context.Background(), env); err != nil {
			t.Fatal(err)
		}
	}
	if n := strings.Count(strings.Join(stepNames(inst.recorded()), " "), string(StepCreate)); n != 1 {
		t.Errorf("create ran %d times, want 1", n)
	}
}

func TestBuildConcurrentCallsShareInstall(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{block: make(chan struct{})}
	b := newTestBuilder(t, inst, nil)

	var wg sync.WaitGroup
	results := make(chan *Context, 2)
	errs := make(chan error, 2)
	for _, env := range []matrix.Environment{coretest(), lintPy310()} {
		wg.Go(func() {
			ictx, err := b.Build(context.Background(), env)
			results <- ictx
			errs <- err
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(inst.block)
	wg.Wait()
	close(errs)
	close(results)

	for err := range errs {
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
	}
	// A late caller misses the shared call but then finds the directory
	// installed by this builder.
	if n := strings.Count(strings.Join(stepNames(inst.recorded()), " "), string(StepCreate)); n != 1 {
		t.Errorf("create ran %d times, want 1", n)
	}
	installed := 0
	for ictx := range results {
		if !ictx.Reused {
			installed++
		}
	}
	if installed != 1 {
		t.Errorf("%d contexts report a fresh install, want 1", installed)
	}
}

func TestBuildSharedFailureNamesEachEnvironment(t *testing.T) {
	t.Parallel()

	inst := &recordingInstaller{block: make(chan struct{}), failOn: StepCreate}
	b := newTestBuilder(t, inst, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := make(map[string]*DependencyResolutionError)
	for _, env := range []matrix.Environment{coretest(), lintPy310()} {
		wg.Go(func() {
			_, err := b.Build(context.Background(), env)
			var depErr *DependencyResolutionError
			if !errors.As(err, &depErr) {
				t.Errorf("Build(%s) error = %v, want DependencyResolutionError", env.ID, err)
				return
			}
			mu.Lock()
			got[env.ID] = depErr
			mu.Unlock()
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(inst.block)
	wg.Wait()

	for id, depErr := range got {
		if depErr.EnvID != id || depErr.Step != StepCreate {
			t.Errorf("error for %s = %+v", id, depErr)
		}
	}
}

func TestEnvDirStaysUnderWorkDir(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, &recordingInstaller{}, nil)
	for _, key := range []string{"", ".", "..", "../x", "a/b", `a\b`, "/abs"} {
		if dir, err := b.envDir(key); !errors.Is(err, ErrInvalidEnvDir) {
			t.Errorf("envDir(%q) = %q, %v; want ErrInvalidEnvDir", key, dir, err)
		}
	}

	env := coretest()
	dir, err := b.EnvDir(&env)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(filepath.Join(b.opts.WorkDir, "envs"), dir)
	if err != nil || !filepath.IsLocal(rel) || strings.Contains(rel, string(filepath.Separator)) {
		t.Errorf("EnvDir = %q escapes the envs directory", dir)
	}
}

func TestBuildDotIDCannotRemoveSiblings(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, &recordingInstaller{}, nil)
	sibling, err := b.Build(context.Background(), coretest())
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{".", ".."} {
		env := matrixtest.NewEnvironment(id, matrixtest.WithSkipInstall())
		ictx, err := b.Build(context.Background(), env)
		if err != nil {
			t.Fatalf("Build(%q) error = %v", id, err)
		}
		if filepath.Dir(ictx.EnvDir) != filepath.Join(b.opts.WorkDir, "envs") {
			t.Errorf("Build(%q) EnvDir = %q", id, ictx.EnvDir)
		}
	}
	if readMarker(sibling.EnvDir) != sibling.Hash {
		t.Error("sibling environment directory was removed")
	}
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.String()
	}
	return names
}

func TestBuildChangeDir(t *testing.T) {
	t.Parallel()

	env := matrix.Environment{ID: "docs", SkipInstall: true, ChangeDir: "docs"}
	b := newTestBuilder(t, &recordingInstaller{}, nil)
	ictx, err := b.Build(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(b.opts.BaseDir, "docs"); ictx.WorkDir != want {
		t.Errorf("WorkDir = %q, want %q", ictx.WorkDir, want)
	}
}

func TestScriptInstallerDepsQuoting(t *testing.T) {
	t.Parallel()

	env := &matrix.Environment{Deps: []string{"pytest>=7", "name with space", "ruff"}}
	vars := installerVars(env, "/env", "/src")

	inst := &ScriptInstaller{
		Scripts: Scripts{StepInstallDeps: `eval "set -- $ENVRUN_DEPS"; printf '%s\n' "$@" > "$OUT"`},
		Runtime: runtime.NewVirtualRuntime(),
	}
	out := filepath.Join(t.TempDir(), "deps.txt")
	vars["OUT"] = out
	if err := inst.Run(context.Background(), StepInstallDeps, vars); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Split(strings.TrimSpace(string(data)), "\n"); !slices.Equal(got, env.Deps) {
		t.Errorf("deps after word splitting = %q, want %q", got, env.Deps)
	}
}

func TestScriptInstaller(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{"no script skips", "", ""},
		{"success", "true", ""},
		{"failure reports stderr", "echo 'no matching distribution' >&2; exit 1", "exit status 1: no matching distribution"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inst := &ScriptInstaller{
				Scripts: Scripts{StepCreate: tt.script},
				Runtime: runtime.NewVirtualRuntime(),
				Output:  io.Discard,
			}
			err := inst.Run(context.Background(), StepCreate, map[string]string{})
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Run() error = %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Run() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestPythonFor(t *testing.T) {
	t.Parallel()

	for version, want := range map[string]string{"": "python3", "3.10": "python3.10", "pypy3.10": "pypy3.10"} {
		if got := pythonFor(version); got != want {
			t.Errorf("pythonFor(%q) = %q, want %q", version, got, want)
		}
	}
}

// stubEngine is a container engine that records lifecycle calls.
type stubEngine struct {
	mu      sync.Mutex
	started []container.StartOptions
	removed []string
	execs   [][]string
}

func (s *stubEngine) Name() string                            { return "stub" }
func (s *stubEngine) Available() bool                         { return true }
func (s *stubEngine) Version(context.Context) (string, error) { return "1", nil }

func (s *stubEngine) Start(_ context.Context, opts container.StartOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, opts)
	return "ctr-1", nil
}

func (s *stubEngine) Exec(_ context.Context, _ string, opts container.ExecOptions) (*container.ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, opts.Command)
	return &container.ExecResult{}, nil
}

func (s *stubEngine) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return nil
}

func TestBuildContainerEnvironment(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	root := t.TempDir()
	b := NewBuilder(Options{
		WorkDir:        filepath.Join(root, ".envrun"),
		PackageRoot:    root,
		BaseDir:        root,
		DefaultPassEnv: []string{"PATH", "HOME"},
		Scripts:        Scripts{StepCreate: "python -m venv $ENVRUN_ENV_DIR"},
	}, runtime.BuildRegistry(engine), &runtime.EnvBuilder{Environ: fakeEnviron})

	env := matrixtest.NewEnvironment("integ", matrixtest.WithImage("python:3.12-slim"), matrixtest.WithSkipInstall())
	ictx, err := b.Build(context.Background(), env)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if ictx.ContainerID != "ctr-1" || ictx.Runtime != runtime.RuntimeTypeContainer {
		t.Errorf("context = %+v", ictx)
	}
	if ictx.EnvDir != container.EnvDir || ictx.WorkDir != container.WorkspaceDir {
		t.Errorf("EnvDir = %q, WorkDir = %q", ictx.EnvDir, ictx.WorkDir)
	}
	if len(engine.started) != 1 {
		t.Fatalf("started %d containers", len(engine.started))
	}
	started := engine.started[0]
	if started.Image != "python:3.12-slim" || started.Labels[LabelEnv] != "integ" {
		t.Errorf("start options = %+v", started)
	}
	if len(started.Volumes) != 1 || started.Volumes[0].HostPath != root || started.Volumes[0].ContainerPath != container.WorkspaceDir {
		t.Errorf("volumes = %+v", started.Volumes)
	}
	if len(engine.execs) != 1 {
		t.Errorf("installer execs = %v, want create only", engine.execs)
	}
	if want := container.EnvDir + "/bin:" + containerPath; ictx.Vars["PATH"] != want {
		t.Errorf("PATH = %q, want %q", ictx.Vars["PATH"], want)
	}

	if err := b.Release(context.Background(), ictx); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(engine.removed, []string{"ctr-1"}) {
		t.Errorf("removed = %v", engine.removed)
	}
}

func TestBuildContainerWithoutEngine(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, &recordingInstaller{}, nil)
	_, err := b.Build(context.Background(), matrix.Environment{ID: "integ", Image: "alpine"})
	var depErr *DependencyResolutionError
	if !errors.As(err, &depErr) || depErr.Step != StepStartContainer {
		t.Fatalf("Build() error = %v, want start_container failure", err)
	}
	if !errors.Is(err, runtime.ErrRuntimeNotAvailable) {
		t.Error("error does not wrap ErrRuntimeNotAvailable")
	}
}

func TestBuildContainerInstallFailureRemovesContainer(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	root := t.TempDir()
	b := NewBuilder(Options{
		WorkDir:     filepath.Join(root, ".envrun"),
		PackageRoot: root,
		Installer:   &recordingInstaller{failOn: StepCreate},
	}, runtime.BuildRegistry(engine), &runtime.EnvBuilder{Environ: fakeEnviron})

	if _, err := b.Build(context.Background(), matrix.Environment{ID: "integ", Image: "alpine"}); err == nil {
		t.Fatal("Build() should fail")
	}
	if !slices.Equal(engine.removed, []string{"ctr-1"}) {
		t.Errorf("removed = %v, want the started container", engine.removed)
	}
}
