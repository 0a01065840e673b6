// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/envrun/envrun/pkg/types"
)

const (
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"

	// RuntimeNative runs commands in the host shell.
	// Defined locally to avoid coupling config to pkg/matrixfile.
	RuntimeNative RuntimeMode = "native"
	// RuntimeVirtual runs commands in the embedded mvdan/sh interpreter.
	RuntimeVirtual RuntimeMode = "virtual"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultMaxOutputBytes bounds each captured stream in result files.
	DefaultMaxOutputBytes = 64 * 1024
)

// Default installer scripts. They run with ENVRUN_ENV_DIR, ENVRUN_VERSION,
// ENVRUN_PYTHON, ENVRUN_EXTRAS, ENVRUN_DEPS and ENVRUN_PACKAGE_ROOT set.
const (
	DefaultCreateScript         = `"$ENVRUN_PYTHON" -m venv "$ENVRUN_ENV_DIR"`
	DefaultInstallDepsScript    = `eval "set -- $ENVRUN_DEPS"; "$ENVRUN_ENV_DIR/bin/python" -m pip install "$@"`
	DefaultInstallPackageScript = `"$ENVRUN_ENV_DIR/bin/python" -m pip install "$ENVRUN_PACKAGE_ROOT${ENVRUN_EXTRAS:+[$ENVRUN_EXTRAS]}"`
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidConfigRuntimeMode is returned when a config RuntimeMode value is not recognized.
	ErrInvalidConfigRuntimeMode = errors.New("invalid runtime mode")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidCommandTimeout is returned when command_timeout is not a
	// positive Go duration.
	ErrInvalidCommandTimeout = errors.New("invalid command timeout")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// RuntimeMode is the runtime of environments that do not choose one.
	// Container execution is selected per environment by an image, so it is
	// not a valid default.
	RuntimeMode string

	// InvalidConfigRuntimeModeError is returned when a config RuntimeMode value is not recognized.
	InvalidConfigRuntimeModeError struct {
		Value RuntimeMode
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidCommandTimeoutError is returned when command_timeout does not parse.
	InvalidCommandTimeoutError struct {
		Value string
		Err   error
	}

	// InvalidConfigError collects field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// ContainerEngine specifies whether to use "podman" or "docker".
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		// DefaultRuntime is used by environments without runtime or image.
		DefaultRuntime RuntimeMode `json:"default_runtime" mapstructure:"default_runtime"`
		// Parallel is the default number of concurrently running environments.
		Parallel int `json:"parallel" mapstructure:"parallel"`
		// CommandTimeout bounds each command, as a Go duration. Empty means none.
		CommandTimeout string `json:"command_timeout" mapstructure:"command_timeout"`
		// DefaultPassEnv are invoker variables every environment receives.
		DefaultPassEnv []string `json:"default_pass_env" mapstructure:"default_pass_env"`
		// Installer holds the installer step scripts.
		Installer InstallerConfig `json:"installer" mapstructure:"installer"`
		// Report configures result files.
		Report ReportConfig `json:"report" mapstructure:"report"`
		// UI contains user interface settings.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// InstallerConfig holds the shell scripts of the installer steps.
	InstallerConfig struct {
		Create         string `json:"create" mapstructure:"create"`
		InstallDeps    string `json:"install_deps" mapstructure:"install_deps"`
		InstallPackage string `json:"install_package" mapstructure:"install_package"`
	}

	// ReportConfig configures result files.
	ReportConfig struct {
		MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	}

	// UIConfig contains UI-related configuration.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}
)

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if ok, fieldErrs := c.ContainerEngine.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	if ok, fieldErrs := c.DefaultRuntime.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	if ok, fieldErrs := c.UI.ColorScheme.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	if c.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", c.Parallel))
	}
	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}
	for _, name := range c.DefaultPassEnv {
		if err := types.EnvVarName(name).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("default_pass_env: %w", err))
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Timeout parses CommandTimeout. Zero means no limit.
func (c Config) Timeout() (time.Duration, error) {
	if strings.TrimSpace(c.CommandTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.CommandTimeout)
	if err == nil && d <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		return 0, &InvalidCommandTimeoutError{Value: c.CommandTimeout, Err: err}
	}
	return d, nil
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Error implements the error interface.
func (e *InvalidCommandTimeoutError) Error() string {
	return fmt.Sprintf("invalid command_timeout %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidCommandTimeout for errors.Is() compatibility.
func (e *InvalidCommandTimeoutError) Unwrap() error { return ErrInvalidCommandTimeout }

// Error implements the error interface.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: podman, docker)", e.Value)
}

// Unwrap returns ErrInvalidContainerEngine for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

// String returns the engine name.
func (ce ContainerEngine) String() string { return string(ce) }

// IsValid returns whether the ContainerEngine is one of the defined engines.
func (ce ContainerEngine) IsValid() (bool, []error) {
	switch ce {
	case ContainerEnginePodman, ContainerEngineDocker:
		return true, nil
	default:
		return false, []error{&InvalidContainerEngineError{Value: ce}}
	}
}

// Error implements the error interface.
func (e *InvalidConfigRuntimeModeError) Error() string {
	return fmt.Sprintf("invalid default runtime %q (valid: native, virtual)", e.Value)
}

// Unwrap returns ErrInvalidConfigRuntimeMode for errors.Is() compatibility.
func (e *InvalidConfigRuntimeModeError) Unwrap() error { return ErrInvalidConfigRuntimeMode }

// String returns the runtime name.
func (m RuntimeMode) String() string { return string(m) }

// IsValid returns whether the RuntimeMode can be a default runtime.
func (m RuntimeMode) IsValid() (bool, []error) {
	switch m {
	case RuntimeNative, RuntimeVirtual:
		return true, nil
	default:
		return false, []error{&InvalidConfigRuntimeModeError{Value: m}}
	}
}

// Error implements the error interface.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// String returns the scheme name.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined schemes.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEnginePodman,
		DefaultRuntime:  RuntimeNative,
		Parallel:        1,
		DefaultPassEnv:  []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TERM", "TMPDIR", "TZ"},
		Installer: InstallerConfig{
			Create:         DefaultCreateScript,
			InstallDeps:    DefaultInstallDepsScript,
			InstallPackage: DefaultInstallPackageScript,
		},
		Report: ReportConfig{MaxOutputBytes: DefaultMaxOutputBytes},
		UI:     UIConfig{ColorScheme: ColorSchemeAuto},
	}
}
