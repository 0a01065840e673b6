// SPDX-License-Identifier: MPL-2.0

package execute

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/envrun/envrun/internal/isolation"
	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/internal/runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type (
	// ContextBuilder prepares and releases isolated contexts.
	ContextBuilder interface {
		Build(ctx context.Context, env matrix.Environment) (*isolation.Context, error)
		Release(ctx context.Context, ictx *isolation.Context) error
	}

	// RunRequest carries the per-run options. Selection, Recreate and
	// EnvVars are consumed when resolving environments and configuring the
	// ContextBuilder.
	RunRequest struct {
		Selection      matrix.Selection
		ExtraArgs      []string
		Parallel       int
		Recreate       bool
		EnvVars        map[string]string
		CommandTimeout time.Duration
	}

	// Hooks observe the run. Calls are serialized.
	Hooks struct {
		// Started is called before an environment is built. In parallel
		// mode it is called just before the environment's buffered output
		// is flushed.
		Started func(env *matrix.Environment)
		// Finished is called with every result, including skipped ones.
		Finished func(res *EnvironmentResult)
	}

	// Orchestrator runs a resolved selection of environments.
	Orchestrator struct {
		Builder  ContextBuilder
		Runtimes *runtime.Registry
		Stdout   io.Writer
		Stderr   io.Writer
		Hooks    Hooks

		mu sync.Mutex
	}
)

// Run executes every environment and returns the aggregated summary. A
// failed environment never prevents the others from running. Environments
// not started when ctx is cancelled are reported as skipped.
func (o *Orchestrator) Run(ctx context.Context, envs []matrix.Environment, req RunRequest) *RunSummary {
	summary := &RunSummary{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Results: make([]EnvironmentResult, len(envs)),
	}
	slog.Debug("starting run", "run", summary.RunID, "environments", len(envs), "parallel", req.Parallel)

	if req.Parallel <= 1 {
		o.runSequential(ctx, envs, req, summary.Results)
	} else {
		o.runParallel(ctx, envs, req, summary.Results)
	}

	summary.Duration = time.Since(summary.Started)
	summary.tally()
	return summary
}

func (o *Orchestrator) runSequential(ctx context.Context, envs []matrix.Environment, req RunRequest, results []EnvironmentResult) {
	for i := range envs {
		env := &envs[i]
		if ctx.Err() != nil {
			results[i] = skipped(env, ctx.Err())
			o.finished(&results[i])
			continue
		}
		o.started(env)
		results[i] = o.runEnvironment(ctx, env, req, o.Stdout, o.Stderr)
		o.finished(&results[i])
	}
}

// runParallel bounds concurrency with errgroup. envs are in dependency
// order, so an environment waiting for its dependencies never holds a slot
// its dependencies need.
func (o *Orchestrator) runParallel(ctx context.Context, envs []matrix.Environment, req RunRequest, results []EnvironmentResult) {
	done := make(map[string]chan struct{}, len(envs))
	for i := range envs {
		done[envs[i].ID] = make(chan struct{})
	}
	deps := matrix.DependenciesOf(envs)

	var g errgroup.Group
	g.SetLimit(req.Parallel)
	for i := range envs {
		env := &envs[i]
		g.Go(func() error {
			defer close(done[env.ID])

			for _, dep := range deps[env.ID] {
				select {
				case <-done[dep]:
				case <-ctx.Done():
				}
			}
			if ctx.Err() != nil {
				results[i] = skipped(env, ctx.Err())
				o.flush(env, nil, nil, &results[i], false)
				return nil
			}

			var stdout, stderr bytes.Buffer
			results[i] = o.runEnvironment(ctx, env, req, &stdout, &stderr)
			o.flush(env, &stdout, &stderr, &results[i], true)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runEnvironment(ctx context.Context, env *matrix.Environment, req RunRequest, stdout, stderr io.Writer) EnvironmentResult {
	start := time.Now()

	ictx, err := o.Builder.Build(ctx, *env)
	if err != nil {
		slog.Debug("environment setup failed", "env", env.ID, "error", err)
		return EnvironmentResult{ID: env.ID, Status: StatusError, Err: err, Duration: time.Since(start)}
	}
	defer func() {
		if err := o.Builder.Release(context.WithoutCancel(ctx), ictx); err != nil {
			slog.Warn("failed to release environment", "env", env.ID, "error", err)
		}
	}()

	rt, err := o.Runtimes.Get(ictx.Runtime)
	if err != nil {
		return EnvironmentResult{ID: env.ID, Status: StatusError, Err: err, Duration: time.Since(start), Reused: ictx.Reused}
	}

	executor := &Executor{Runtime: rt, Timeout: req.CommandTimeout, Stdout: stdout, Stderr: stderr}
	res := executor.Execute(ctx, ictx, env.Commands, req.ExtraArgs)
	res.Duration = time.Since(start)
	return res
}

// flush writes an environment's buffered output, each line prefixed with
// the environment ID, and reports the result. Holding the lock for the
// whole flush keeps environments from interleaving.
func (o *Orchestrator) flush(env *matrix.Environment, stdout, stderr *bytes.Buffer, res *EnvironmentResult, ran bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ran && o.Hooks.Started != nil {
		o.Hooks.Started(env)
	}
	if stdout != nil {
		writePrefixed(o.Stdout, env.ID, stdout)
	}
	if stderr != nil {
		writePrefixed(o.Stderr, env.ID, stderr)
	}
	if o.Hooks.Finished != nil {
		o.Hooks.Finished(res)
	}
}

func (o *Orchestrator) started(env *matrix.Environment) {
	if o.Hooks.Started != nil {
		o.Hooks.Started(env)
	}
}

func (o *Orchestrator) finished(res *EnvironmentResult) {
	if o.Hooks.Finished != nil {
		o.Hooks.Finished(res)
	}
}

func writePrefixed(w io.Writer, prefix string, buf *bytes.Buffer) {
	if w == nil || buf.Len() == 0 {
		return
	}
	scanner := bufio.NewScanner(buf)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		_, _ = fmt.Fprintf(w, "[%s] %s\n", prefix, scanner.Bytes())
	}
}

func skipped(env *matrix.Environment, err error) EnvironmentResult {
	return EnvironmentResult{ID: env.ID, Status: StatusSkipped, Err: err}
}
