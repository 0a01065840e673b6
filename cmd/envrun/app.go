// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/envrun/envrun/internal/config"
	"github.com/envrun/envrun/internal/container"
	"github.com/envrun/envrun/internal/issue"
	"github.com/envrun/envrun/pkg/matrixfile"

	"github.com/charmbracelet/log"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
	}

	// EngineFactory creates the container engine for container environments.
	EngineFactory func(preferred container.EngineType) (container.Engine, error)

	// App wires CLI services and shared dependencies. Every Cobra handler
	// receives the App and reads configuration and output streams through it.
	App struct {
		Config    ConfigProvider
		NewEngine EngineFactory
		// Environ is the invoker environment environments draw from.
		Environ func() []string
		stdout  io.Writer
		stderr  io.Writer

		// Global flag values.
		verbose    bool
		configPath string

		cfgOnce sync.Once
		cfg     *config.Config
		cfgFile string
		cfgErr  error
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config    ConfigProvider
		NewEngine EngineFactory
		Environ   func() []string
		Stdout    io.Writer
		Stderr    io.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.NewEngine == nil {
		deps.NewEngine = container.NewEngine
	}
	if deps.Environ == nil {
		deps.Environ = os.Environ
	}

	return &App{
		Config:    deps.Config,
		NewEngine: deps.NewEngine,
		Environ:   deps.Environ,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
	}, nil
}

// loadConfig loads the configuration once per invocation.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	a.cfgOnce.Do(func() {
		a.cfg, a.cfgFile, a.cfgErr = a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
	})
	return a.cfg, a.cfgErr
}

// configureLogging installs a charm logger as the slog default handler.
func (a *App) configureLogging() {
	level := log.WarnLevel
	if a.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix: config.AppName,
		Level:  level,
	})
	slog.SetDefault(slog.New(logger))
}

// colorScheme returns the glamour style for issue rendering.
func (a *App) colorScheme() string {
	if a.cfg == nil {
		return string(config.ColorSchemeAuto)
	}
	return string(a.cfg.UI.ColorScheme)
}

// loadMatrix reads the matrix file at path, or discovers one in the working
// directory when path is empty.
func (a *App) loadMatrix(path string) (*matrixfile.Matrixfile, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path, err = matrixfile.Discover(wd)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("find matrix file").
				WithResource(wd).
				WithSuggestion("Run 'envrun init' to create a starter envrun.cue").
				WithSuggestion("Pass an explicit file with --file").
				WithIssue(issue.MatrixFileNotFoundID).
				Wrap(err).
				BuildError()
		}
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	mf, err := matrixfile.ParseFile(path)
	if err != nil {
		ctx := issue.NewErrorContext().
			WithOperation("load matrix file").
			WithResource(path).
			Wrap(err)
		if errors.Is(err, fs.ErrNotExist) {
			ctx = ctx.WithIssue(issue.MatrixFileNotFoundID)
		} else {
			ctx = ctx.WithIssue(issue.MatrixFileParseErrorID).
				WithSuggestion("Run 'envrun validate' for the full list of problems")
		}
		return nil, ctx.BuildError()
	}
	slog.Debug("loaded matrix file", "path", path, "definitions", len(mf.Envs))
	return mf, nil
}
