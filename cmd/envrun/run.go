// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/envrun/envrun/internal/app/execute"
	"github.com/envrun/envrun/internal/config"
	"github.com/envrun/envrun/internal/container"
	"github.com/envrun/envrun/internal/isolation"
	"github.com/envrun/envrun/internal/issue"
	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/internal/report"
	"github.com/envrun/envrun/internal/runtime"
	"github.com/envrun/envrun/pkg/matrixfile"
	"github.com/envrun/envrun/pkg/types"

	"github.com/spf13/cobra"
)

// runOptions holds the flag values of `envrun run`.
type runOptions struct {
	envs     []string
	file     string
	parallel int
	recreate bool
	report   string
	timeout  time.Duration
	envVars  []string
	runtime  string
}

// newRunCommand creates the `envrun run` command.
func newRunCommand(app *App) *cobra.Command {
	opts := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run [ENV...] [-- ARGS...]",
		Short: "Run the selected environments",
		Long: `Run the selected environments.

Environments are selected by concrete ID (unit-py312) or by definition name
(unit), which selects every version expansion. Without a selection the
matrix file's env_list is used, or every environment when it has none.
Arguments after -- are passed to the final command of each environment.

Exit status is 0 when every environment passed, 1 when any failed and 2
when the selection or configuration was rejected before anything ran.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, extra := splitRunArgs(cmd, args)
			return app.run(cmd.Context(), cmd, opts, names, extra)
		},
	}

	runCmd.Flags().StringSliceVarP(&opts.envs, "env", "e", nil, "environments to run (repeatable, comma-separated)")
	runCmd.Flags().StringVarP(&opts.file, "file", "f", "", "matrix file (default: envrun.cue or envrun.toml in the current directory)")
	runCmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 1, "number of environments to run at once")
	runCmd.Flags().BoolVar(&opts.recreate, "recreate", false, "rebuild environment directories even when dependencies are unchanged")
	runCmd.Flags().StringVar(&opts.report, "report", "", "write a result file (.json, .yaml or .yml)")
	runCmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-command timeout (e.g. 10m); 0 uses the configured value")
	runCmd.Flags().StringArrayVar(&opts.envVars, "env-var", nil, "set an environment variable in every environment (KEY=VALUE, repeatable)")
	runCmd.Flags().StringVar(&opts.runtime, "runtime", "", "runtime for environments without one: native or virtual")

	return runCmd
}

// splitRunArgs separates environment names from the arguments after "--".
func splitRunArgs(cmd *cobra.Command, args []string) (names, extra []string) {
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		return args[:at], args[at:]
	}
	return args, nil
}

func (a *App) run(ctx context.Context, cmd *cobra.Command, opts *runOptions, names, extra []string) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return usageError(err)
	}

	req, err := runRequest(cmd, cfg, opts, names, extra)
	if err != nil {
		return usageError(err)
	}

	mf, err := a.loadMatrix(opts.file)
	if err != nil {
		return usageError(err)
	}

	envs, err := matrix.Resolve(mf, req.Selection)
	if err != nil {
		return usageError(err)
	}
	slog.Debug("resolved environments", "ids", matrix.IDs(envs))

	defaultRuntime := cfg.DefaultRuntime
	if opts.runtime != "" {
		defaultRuntime = config.RuntimeMode(opts.runtime)
	}

	registry := runtime.BuildRegistry(a.engineFor(envs, cfg.ContainerEngine))
	builder := isolation.NewBuilder(builderOptions(mf, cfg, defaultRuntime, req, a.stderr), registry, &runtime.EnvBuilder{Environ: a.Environ})

	orch := &execute.Orchestrator{
		Builder:  builder,
		Runtimes: registry,
		Stdout:   a.stdout,
		Stderr:   a.stderr,
		Hooks:    a.progressHooks(),
	}
	summary := orch.Run(ctx, envs, req)

	fmt.Fprint(a.stdout, RenderSummary(summary, a.verbose))

	if opts.report != "" {
		if err := report.Write(opts.report, summary, cfg.Report.MaxOutputBytes); err != nil {
			return &ExitError{Code: types.ExitFailure, Err: issue.NewErrorContext().
				WithOperation("write report").
				WithResource(opts.report).
				WithSuggestion("Check that the report directory exists and is writable").
				Wrap(err).
				BuildError()}
		}
		slog.Debug("wrote report", "path", opts.report)
	}

	if !summary.Success() {
		return &ExitError{Code: types.ExitFailure}
	}
	return nil
}

// runRequest validates the flag values and merges them with the configuration.
func runRequest(cmd *cobra.Command, cfg *config.Config, opts *runOptions, names, extra []string) (execute.RunRequest, error) {
	req := execute.RunRequest{
		Selection: matrix.ParseSelection(append(slices.Clone(opts.envs), names...)...),
		ExtraArgs: extra,
		Parallel:  cfg.Parallel,
		Recreate:  opts.recreate,
	}

	if cmd.Flags().Changed("parallel") {
		if opts.parallel < 1 {
			return req, fmt.Errorf("--parallel must be at least 1, got %d", opts.parallel)
		}
		req.Parallel = opts.parallel
	}

	timeout, err := cfg.Timeout()
	if err != nil {
		return req, err
	}
	if opts.timeout < 0 {
		return req, fmt.Errorf("--timeout must not be negative, got %s", opts.timeout)
	}
	if opts.timeout > 0 {
		timeout = opts.timeout
	}
	req.CommandTimeout = timeout

	if opts.report != "" {
		if err := report.CheckPath(opts.report); err != nil {
			return req, fmt.Errorf("--report: %w", err)
		}
	}

	if opts.runtime != "" {
		if ok, errs := config.RuntimeMode(opts.runtime).IsValid(); !ok {
			return req, fmt.Errorf("--runtime: %w", errs[0])
		}
	}

	req.EnvVars, err = parseEnvVars(opts.envVars)
	if err != nil {
		return req, err
	}
	return req, nil
}

// parseEnvVars parses KEY=VALUE pairs. The value may be empty or contain '='.
func parseEnvVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("--env-var %q: expected KEY=VALUE", pair)
		}
		if err := types.EnvVarName(name).Validate(); err != nil {
			return nil, fmt.Errorf("--env-var %q: %w", pair, err)
		}
		vars[name] = value
	}
	return vars, nil
}

// builderOptions derives the isolation options of a run.
func builderOptions(mf *matrixfile.Matrixfile, cfg *config.Config, defaultRuntime config.RuntimeMode, req execute.RunRequest, installOutput io.Writer) isolation.Options {
	return isolation.Options{
		WorkDir:        mf.ResolvePath(mf.WorkDir),
		PackageRoot:    mf.ResolvePath(mf.PackageRoot),
		BaseDir:        mf.BaseDir(),
		DefaultRuntime: matrixfile.RuntimeMode(defaultRuntime),
		DefaultPassEnv: cfg.DefaultPassEnv,
		Overrides:      req.EnvVars,
		Recreate:       req.Recreate,
		Scripts: isolation.Scripts{
			isolation.StepCreate:         cfg.Installer.Create,
			isolation.StepInstallDeps:    cfg.Installer.InstallDeps,
			isolation.StepInstallPackage: cfg.Installer.InstallPackage,
		},
		InstallOutput: installOutput,
	}
}

// engineFor returns the container engine when a selected environment needs
// one. Without an engine the container runtime stays unregistered and those
// environments fail their setup with a runtime-not-available error.
func (a *App) engineFor(envs []matrix.Environment, preferred config.ContainerEngine) container.Engine {
	needed := false
	for i := range envs {
		if envs[i].Image != "" {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	engine, err := a.NewEngine(container.EngineType(preferred))
	if err != nil {
		slog.Warn("no container engine available", "preferred", preferred, "error", err)
		return nil
	}
	slog.Debug("using container engine", "engine", engine.Name())
	return engine
}

// progressHooks prints a header before each environment and a status line
// after it.
func (a *App) progressHooks() execute.Hooks {
	return execute.Hooks{
		Started: func(env *matrix.Environment) {
			fmt.Fprintf(a.stdout, "%s %s\n", TitleStyle.Render("▶"), EnvStyle.Render(env.ID))
		},
		Finished: func(res *execute.EnvironmentResult) {
			fmt.Fprintln(a.stdout, RenderStatusLine(res))
		},
	}
}
