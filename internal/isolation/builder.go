// SPDX-License-Identifier: MPL-2.0

package isolation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"
	"sync"

	"github.com/envrun/envrun/internal/container"
	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/internal/runtime"
	"github.com/envrun/envrun/pkg/matrixfile"

	"golang.org/x/sync/singleflight"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// MarkerFile records the dependency hash an environment directory was
	// built from.
	MarkerFile = ".envrun-deps"

	// containerPath is the PATH environment binaries are prepended to
	// inside containers.
	containerPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

	// LabelEnv and LabelHash tag environment containers.
	LabelEnv  = "envrun.env"
	LabelHash = "envrun.deps-hash"
)

type (
	// Context is the isolated context one environment's commands run in.
	Context struct {
		Env     matrix.Environment
		EnvDir  string
		BinDir  string
		WorkDir string
		// Vars is the complete environment of every command.
		Vars    map[string]string
		Runtime runtime.RuntimeType
		// ContainerID is set for container environments.
		ContainerID string
		// Reused reports that an existing environment directory matched the
		// dependency hash and no installer step ran.
		Reused bool
		Hash   string
	}

	// Options configure a Builder.
	Options struct {
		// WorkDir holds the environment directories (<work_dir>/envs/<hash>).
		WorkDir string
		// PackageRoot is the package under test.
		PackageRoot string
		// BaseDir resolves env files and change_dir.
		BaseDir        string
		DefaultRuntime matrixfile.RuntimeMode
		DefaultPassEnv []string
		// Overrides are --env-var values.
		Overrides map[string]string
		// Recreate ignores matching markers.
		Recreate bool
		Scripts  Scripts
		// Installer replaces the script installer for every environment.
		Installer Installer
		// InstallOutput receives installer output. May be nil.
		InstallOutput io.Writer
	}

	// Builder prepares isolated contexts.
	Builder struct {
		opts       Options
		registry   *runtime.Registry
		envBuilder *runtime.EnvBuilder
		group      singleflight.Group

		mu        sync.Mutex
		installed map[string]bool
	}
)

// NewBuilder creates a builder. envBuilder may be nil to read the process
// environment.
func NewBuilder(opts Options, registry *runtime.Registry, envBuilder *runtime.EnvBuilder) *Builder {
	if envBuilder == nil {
		envBuilder = runtime.NewEnvBuilder()
	}
	return &Builder{opts: opts, registry: registry, envBuilder: envBuilder, installed: make(map[string]bool)}
}

// RuntimeFor returns the runtime env runs with.
func (b *Builder) RuntimeFor(env *matrix.Environment) runtime.RuntimeType {
	return runtime.RuntimeType(matrixfile.EffectiveRuntime(env.Image, env.Runtime, b.opts.DefaultRuntime))
}

// DependencySet returns the dependency set of env.
func (b *Builder) DependencySet(env *matrix.Environment) DependencySet {
	return DependencySet{
		Version:     env.Version,
		Extras:      env.Extras,
		Deps:        env.Deps,
		SkipInstall: env.SkipInstall,
		PackageRoot: b.opts.PackageRoot,
		Image:       env.Image,
		Scripts:     b.opts.Scripts,
	}
}

// EnvDir returns the directory env is installed into. Native and virtual
// environments are content-addressed under <work_dir>/envs/<hash>.
func (b *Builder) EnvDir(env *matrix.Environment) (string, error) {
	if b.RuntimeFor(env) == runtime.RuntimeTypeContainer {
		return container.EnvDir, nil
	}
	return b.envDir(b.DependencySet(env).Hash())
}

// envDir joins key under <work_dir>/envs and refuses keys that would
// escape it.
func (b *Builder) envDir(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || !filepath.IsLocal(key) || filepath.Clean(key) == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidEnvDir, key)
	}
	return filepath.Join(b.opts.WorkDir, "envs", key), nil
}

// Build prepares the isolated context of env. Environments with equal
// dependency sets share one directory, and concurrent builds of that
// directory run the installer once.
func (b *Builder) Build(ctx context.Context, env matrix.Environment) (*Context, error) {
	rtType := b.RuntimeFor(&env)
	rt, err := b.registry.Get(rtType)
	if err != nil {
		step := StepCreate
		if rtType == runtime.RuntimeTypeContainer {
			step = StepStartContainer
		}
		return nil, &DependencyResolutionError{EnvID: env.ID, Step: step, Err: err}
	}

	if rtType == runtime.RuntimeTypeContainer {
		return b.buildContainer(ctx, env, rt)
	}
	return b.buildLocal(ctx, env, rt)
}

// Release frees resources held by ictx. It removes the environment
// container, if any.
func (b *Builder) Release(ctx context.Context, ictx *Context) error {
	if ictx == nil || ictx.ContainerID == "" {
		return nil
	}
	rt, err := b.registry.Get(runtime.RuntimeTypeContainer)
	if err != nil {
		return err
	}
	cr, ok := rt.(*runtime.ContainerRuntime)
	if !ok {
		return errors.New("container runtime has no engine")
	}
	return cr.Engine().Remove(ctx, ictx.ContainerID)
}

// population is the outcome of preparing a shared environment directory.
type population struct {
	by     string
	reused bool
}

func (b *Builder) buildLocal(ctx context.Context, env matrix.Environment, rt runtime.Runtime) (*Context, error) {
	hash := b.DependencySet(&env).Hash()
	envDir, err := b.envDir(hash)
	if err != nil {
		return nil, &DependencyResolutionError{EnvID: env.ID, Step: StepCreate, Err: err}
	}
	ictx := &Context{
		Env:     env,
		EnvDir:  envDir,
		BinDir:  binDir(envDir, goruntime.GOOS),
		WorkDir: b.localWorkDir(&env),
		Runtime: runtime.RuntimeType(rt.Name()),
		Hash:    hash,
	}

	v, err, _ := b.group.Do(hash, func() (any, error) {
		return b.populate(ctx, &env, ictx, rt)
	})
	if err != nil {
		return nil, relabel(err, env.ID)
	}
	p := v.(population)
	if p.by != env.ID {
		slog.Debug("environment directory shared", "env", env.ID, "installed_by", p.by, "dir", envDir)
	}
	ictx.Reused = p.reused || p.by != env.ID

	vars, err := b.vars(&env, ictx, runtime.EnvSpec{BinDir: ictx.BinDir}, b.opts.DefaultPassEnv)
	if err != nil {
		return nil, err
	}
	ictx.Vars = vars
	return ictx, nil
}

// populate installs ictx.EnvDir unless it already holds ictx.Hash. A
// directory installed earlier in this run is never recreated twice.
func (b *Builder) populate(ctx context.Context, env *matrix.Environment, ictx *Context, rt runtime.Runtime) (population, error) {
	b.mu.Lock()
	done := b.installed[ictx.Hash]
	b.mu.Unlock()

	if done || (!b.opts.Recreate && readMarker(ictx.EnvDir) == ictx.Hash) {
		slog.Debug("reusing environment directory", "env", env.ID, "dir", ictx.EnvDir)
		return population{by: env.ID, reused: true}, nil
	}

	installer := b.installerFor(rt, ictx.WorkDir, "")
	if err := b.install(ctx, env, ictx, installer, b.opts.PackageRoot); err != nil {
		return population{}, err
	}
	if err := writeMarker(ictx.EnvDir, ictx.Hash); err != nil {
		return population{}, &DependencyResolutionError{EnvID: env.ID, Step: StepCreate, Err: err}
	}

	b.mu.Lock()
	b.installed[ictx.Hash] = true
	b.mu.Unlock()
	return population{by: env.ID}, nil
}

// relabel attributes a build failure shared with another environment to id.
func relabel(err error, id string) error {
	var depErr *DependencyResolutionError
	if !errors.As(err, &depErr) || depErr.EnvID == id {
		return err
	}
	return &DependencyResolutionError{EnvID: id, Step: depErr.Step, Err: depErr.Err}
}

func (b *Builder) buildContainer(ctx context.Context, env matrix.Environment, rt runtime.Runtime) (*Context, error) {
	cr, ok := rt.(*runtime.ContainerRuntime)
	if !ok {
		return nil, &DependencyResolutionError{EnvID: env.ID, Step: StepStartContainer, Err: errors.New("container runtime has no engine")}
	}

	hash := b.DependencySet(&env).Hash()
	workDir := container.WorkspaceDir
	if env.ChangeDir != "" && !path.IsAbs(filepath.ToSlash(env.ChangeDir)) {
		workDir = path.Join(container.WorkspaceDir, filepath.ToSlash(env.ChangeDir))
	}

	id, err := cr.Engine().Start(ctx, container.StartOptions{
		Image:   env.Image,
		WorkDir: container.WorkspaceDir,
		Volumes: []container.VolumeMount{{HostPath: b.opts.PackageRoot, ContainerPath: container.WorkspaceDir}},
		Labels:  map[string]string{LabelEnv: env.ID, LabelHash: hash},
	})
	if err != nil {
		return nil, &DependencyResolutionError{EnvID: env.ID, Step: StepStartContainer, Err: err}
	}

	ictx := &Context{
		Env:         env,
		EnvDir:      container.EnvDir,
		BinDir:      path.Join(container.EnvDir, "bin"),
		WorkDir:     workDir,
		Runtime:     runtime.RuntimeTypeContainer,
		ContainerID: id,
		Hash:        hash,
	}

	// Host paths mean nothing inside the container.
	passEnv := slices.DeleteFunc(slices.Clone(b.opts.DefaultPassEnv), func(name string) bool { return name == "PATH" })
	spec := runtime.EnvSpec{BinDir: ictx.BinDir, BasePath: containerPath, PathSeparator: ":"}

	installer := b.installerFor(rt, container.WorkspaceDir, id)
	if err := b.install(ctx, &env, ictx, installer, container.WorkspaceDir); err != nil {
		b.discard(ictx)
		return nil, err
	}

	vars, err := b.vars(&env, ictx, spec, passEnv)
	if err != nil {
		b.discard(ictx)
		return nil, err
	}
	ictx.Vars = vars
	return ictx, nil
}

// install runs the installer steps into a fresh environment directory.
func (b *Builder) install(ctx context.Context, env *matrix.Environment, ictx *Context, installer Installer, packageRoot string) error {
	if ictx.ContainerID == "" {
		if err := os.RemoveAll(ictx.EnvDir); err != nil {
			return &DependencyResolutionError{EnvID: env.ID, Step: StepCreate, Err: err}
		}
		if err := os.MkdirAll(filepath.Dir(ictx.EnvDir), 0o755); err != nil {
			return &DependencyResolutionError{EnvID: env.ID, Step: StepCreate, Err: err}
		}
	}

	base, err := b.envBuilder.Build(b.envSpec(env, runtime.EnvSpec{}, b.opts.DefaultPassEnv))
	if err != nil {
		return &DependencyResolutionError{EnvID: env.ID, Step: StepEnvironment, Err: err}
	}
	if ictx.ContainerID != "" {
		base["PATH"] = containerPath
	}
	vars := installerVars(env, ictx.EnvDir, packageRoot)
	for k, v := range vars {
		base[k] = v
	}

	steps := []Step{StepCreate}
	if len(env.Deps) > 0 {
		steps = append(steps, StepInstallDeps)
	}
	if !env.SkipInstall {
		steps = append(steps, StepInstallPackage)
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return &DependencyResolutionError{EnvID: env.ID, Step: step, Err: err}
		}
		if err := installer.Run(ctx, step, base); err != nil {
			return &DependencyResolutionError{EnvID: env.ID, Step: step, Err: err}
		}
	}
	return nil
}

func (b *Builder) installerFor(rt runtime.Runtime, workDir, containerID string) Installer {
	if b.opts.Installer != nil {
		return b.opts.Installer
	}
	return &ScriptInstaller{
		Scripts:     b.opts.Scripts,
		Runtime:     rt,
		WorkDir:     workDir,
		ContainerID: containerID,
		Output:      b.opts.InstallOutput,
	}
}

func (b *Builder) vars(env *matrix.Environment, ictx *Context, spec runtime.EnvSpec, passEnv []string) (map[string]string, error) {
	spec.EnvDir = ictx.EnvDir
	vars, err := b.envBuilder.Build(b.envSpec(env, spec, passEnv))
	if err != nil {
		return nil, &DependencyResolutionError{EnvID: env.ID, Step: StepEnvironment, Err: err}
	}
	return vars, nil
}

func (b *Builder) envSpec(env *matrix.Environment, spec runtime.EnvSpec, passEnv []string) runtime.EnvSpec {
	spec.EnvID = env.ID
	spec.DefaultPassEnv = passEnv
	spec.PassEnv = env.PassEnv
	spec.EnvFiles = env.EnvFiles
	spec.BaseDir = b.opts.BaseDir
	spec.SetEnv = env.SetEnv
	spec.Overrides = b.opts.Overrides
	return spec
}

func (b *Builder) localWorkDir(env *matrix.Environment) string {
	base := b.opts.BaseDir
	if base == "" {
		base = "."
	}
	switch {
	case env.ChangeDir == "":
		return base
	case filepath.IsAbs(env.ChangeDir):
		return env.ChangeDir
	default:
		return filepath.Join(base, filepath.FromSlash(env.ChangeDir))
	}
}

// discard removes a container whose environment could not be prepared.
func (b *Builder) discard(ictx *Context) {
	if err := b.Release(context.Background(), ictx); err != nil {
		slog.Warn("failed to remove environment container", "container", ictx.ContainerID, "error", err)
	}
}

// installerVars returns the variables every installer step sees.
func installerVars(env *matrix.Environment, envDir, packageRoot string) map[string]string {
	quoted := make([]string, 0, len(env.Deps))
	for _, dep := range env.Deps {
		q, err := syntax.Quote(dep, syntax.LangPOSIX)
		if err != nil {
			// Only strings with NUL bytes are unquotable.
			q = "'" + strings.ReplaceAll(dep, "\x00", "") + "'"
		}
		quoted = append(quoted, q)
	}
	return map[string]string{
		VarEnvDir:      envDir,
		VarVersion:     env.Version,
		VarPython:      pythonFor(env.Version),
		VarExtras:      strings.Join(env.Extras, ","),
		VarDeps:        strings.Join(quoted, " "),
		VarPackageRoot: packageRoot,
	}
}

// pythonFor names the interpreter of a version axis value: "3.10" runs
// python3.10, "pypy3.10" runs pypy3.10, no version runs python3.
func pythonFor(version string) string {
	switch {
	case version == "":
		return "python3"
	case version[0] >= '0' && version[0] <= '9':
		return "python" + version
	default:
		return version
	}
}

func binDir(envDir, goos string) string {
	if goos == "windows" {
		return filepath.Join(envDir, "Scripts")
	}
	return filepath.Join(envDir, "bin")
}

func readMarker(envDir string) string {
	data, err := os.ReadFile(filepath.Join(envDir, MarkerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeMarker(envDir, hash string) error {
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(envDir, MarkerFile), []byte(hash+"\n"), 0o644); err != nil {
		return fmt.Errorf("write dependency marker: %w", err)
	}
	return nil
}
