// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/envrun/envrun/internal/config"
	"github.com/envrun/envrun/internal/container"
	"github.com/envrun/envrun/internal/issue"
	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/internal/report"
	"github.com/envrun/envrun/internal/testutil"
	"github.com/envrun/envrun/pkg/matrixfile"
	"github.com/envrun/envrun/pkg/types"
)

// The command tests below are not parallel: every invocation installs its
// logger as the slog default.

const passFailCUE = `
envs: [
	{
		name: "first"
		description: "Fails on purpose"
		skip_install: true
		commands: ["echo first-ran", "exit 3", "echo never"]
	},
	{
		name: "second"
		skip_install: true
		commands: ["echo second-ran"]
	},
]
`

const versionedCUE = `
version_prefix: "py"
env_list: ["unit"]
envs: [
	{
		name: "unit"
		description: "Unit tests"
		versions: ["3.12", "3.9"]
		skip_install: true
		set_env: {GREETING: "hello"}
		commands: ["echo setup", "echo $GREETING {posargs}"]
	},
	{
		name: "lint"
		skip_install: true
		deps: ["ruff"]
		commands: ["- exit 1", "echo lint-done"]
		depends: ["unit"]
	},
]
`

type staticConfig struct {
	cfg *config.Config
	err error
}

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, string, error) {
	return s.cfg, "", s.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DefaultRuntime = config.RuntimeVirtual
	cfg.DefaultPassEnv = []string{"PATH"}
	cfg.Installer = config.InstallerConfig{}
	return cfg
}

func noEngine(container.EngineType) (container.Engine, error) {
	return nil, errors.New("no engine in tests")
}

func writeMatrix(t *testing.T, content string) string {
	t.Helper()
	return testutil.MustWriteFile(t, t.TempDir(), matrixfile.CUEFileName, content)
}

func runCLI(t *testing.T, cfg *config.Config, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app, err := NewApp(Dependencies{
		Config:    staticConfig{cfg: cfg},
		NewEngine: noEngine,
		Environ:   testutil.Environ("PATH=/usr/bin:/bin", "HOME=/home/dev"),
		Stdout:    &out,
		Stderr:    &errOut,
	})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func requireExitCode(t *testing.T, err error, want types.ExitCode) {
	t.Helper()
	if want == types.ExitSuccess {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if got := exitCodeFor(err); err == nil || got != want {
		t.Fatalf("exit code = %d (err %v), want %d", got, err, want)
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	path := writeMatrix(t, passFailCUE)

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path)
	requireExitCode(t, err, types.ExitFailure)

	for _, want := range []string{
		"first-ran",
		"second-ran",
		"total: 2  succeeded: 1  failed: 1",
		`command "exit 3" exited with status 3`,
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "never") {
		t.Errorf("command after the failure ran:\n%s", stdout)
	}
}

func TestRunDefaultSelectionAndPosargs(t *testing.T) {
	path := writeMatrix(t, versionedCUE)

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path, "--", "a", "b c")
	requireExitCode(t, err, types.ExitSuccess)

	if !strings.Contains(stdout, "hello a b c") {
		t.Errorf("pass-through arguments missing:\n%s", stdout)
	}
	// env_list selects unit only; semver ordering puts 3.9 first.
	py39 := strings.Index(stdout, "unit-py39")
	py312 := strings.Index(stdout, "unit-py312")
	if py39 < 0 || py312 < 0 || py39 > py312 {
		t.Errorf("expected unit-py39 before unit-py312:\n%s", stdout)
	}
	if strings.Contains(stdout, "lint-done") {
		t.Errorf("lint ran outside the default selection:\n%s", stdout)
	}
	if !strings.Contains(stdout, "total: 2  succeeded: 2  failed: 0") {
		t.Errorf("unexpected summary:\n%s", stdout)
	}
}

func TestRunSelectionByNameAndFlag(t *testing.T) {
	path := writeMatrix(t, versionedCUE)

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path, "-e", "unit-py312", "lint")
	requireExitCode(t, err, types.ExitSuccess)

	if !strings.Contains(stdout, "lint-done") {
		t.Errorf("ignored exit stopped lint:\n%s", stdout)
	}
	if strings.Contains(stdout, "unit-py39") {
		t.Errorf("unselected expansion ran:\n%s", stdout)
	}
	if !strings.Contains(stdout, "total: 2") {
		t.Errorf("unexpected summary:\n%s", stdout)
	}
}

func TestRunEnvVarOverride(t *testing.T) {
	path := writeMatrix(t, versionedCUE)

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path, "-e", "unit-py39", "--env-var", "GREETING=overridden")
	requireExitCode(t, err, types.ExitSuccess)

	if !strings.Contains(stdout, "overridden") || strings.Contains(stdout, "hello") {
		t.Errorf("--env-var did not override set_env:\n%s", stdout)
	}
}

func TestRunRejectedBeforeExecution(t *testing.T) {
	path := writeMatrix(t, passFailCUE)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown environment", []string{"run", "-f", path, "nope"}},
		{"parallel below one", []string{"run", "-f", path, "-p", "0"}},
		{"negative timeout", []string{"run", "-f", path, "--timeout", "-1s"}},
		{"container default runtime", []string{"run", "-f", path, "--runtime", "container"}},
		{"malformed env var", []string{"run", "-f", path, "--env-var", "NOVALUE"}},
		{"missing matrix file", []string{"run", "-f", filepath.Join(t.TempDir(), "envrun.cue")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := runCLI(t, testConfig(), tt.args...)
			requireExitCode(t, err, types.ExitUsage)
			if strings.Contains(stdout, "first-ran") {
				t.Errorf("an environment ran:\n%s", stdout)
			}
		})
	}
}

func TestRunUnknownEnvironmentError(t *testing.T) {
	path := writeMatrix(t, versionedCUE)

	_, _, err := runCLI(t, testConfig(), "run", "-f", path, "unit", "typo")
	var selErr *matrix.SelectionError
	if !errors.As(err, &selErr) {
		t.Fatalf("expected SelectionError, got %v", err)
	}
	if len(selErr.Unknown) != 1 || selErr.Unknown[0] != "typo" {
		t.Errorf("Unknown = %v, want [typo]", selErr.Unknown)
	}
}

func TestRunConfigError(t *testing.T) {
	path := writeMatrix(t, passFailCUE)
	var out bytes.Buffer
	app, _ := NewApp(Dependencies{
		Config: staticConfig{err: errors.New("broken config")},
		Stdout: &out,
		Stderr: &out,
	})
	root := NewRootCommand(app)
	root.SetArgs([]string{"run", "-f", path})
	root.SetOut(&out)
	root.SetErr(&out)

	requireExitCode(t, root.ExecuteContext(context.Background()), types.ExitUsage)
}

func TestRunReusesEnvironment(t *testing.T) {
	path := writeMatrix(t, versionedCUE)
	args := []string{"run", "-f", path, "-e", "unit-py39"}

	first, _, err := runCLI(t, testConfig(), args...)
	requireExitCode(t, err, types.ExitSuccess)
	if strings.Contains(first, "[reused]") {
		t.Errorf("first run reported reuse:\n%s", first)
	}

	second, _, err := runCLI(t, testConfig(), args...)
	requireExitCode(t, err, types.ExitSuccess)
	if !strings.Contains(second, "[reused]") {
		t.Errorf("second run did not reuse the environment:\n%s", second)
	}

	third, _, err := runCLI(t, testConfig(), append(args, "--recreate")...)
	requireExitCode(t, err, types.ExitSuccess)
	if strings.Contains(third, "[reused]") {
		t.Errorf("--recreate reused the environment:\n%s", third)
	}

	markers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".envrun", "envs", "*", ".envrun-deps"))
	if err != nil || len(markers) != 1 {
		t.Errorf("dependency markers = %v, %v; want one", markers, err)
	}
}

func TestRunParallel(t *testing.T) {
	path := writeMatrix(t, passFailCUE)

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path, "-p", "2")
	requireExitCode(t, err, types.ExitFailure)

	if !strings.Contains(stdout, "[second] second-ran") {
		t.Errorf("parallel output not prefixed:\n%s", stdout)
	}
	if !strings.Contains(stdout, "total: 2  succeeded: 1  failed: 1") {
		t.Errorf("unexpected summary:\n%s", stdout)
	}
}

func TestRunContainerWithoutEngine(t *testing.T) {
	path := writeMatrix(t, `
envs: [
	{
		name: "integ"
		image: "debian:stable-slim"
		skip_install: true
		commands: ["echo in-container"]
	},
	{
		name: "host"
		skip_install: true
		commands: ["echo on-host"]
	},
]
`)

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path)
	requireExitCode(t, err, types.ExitFailure)

	if !strings.Contains(stdout, "on-host") {
		t.Errorf("sibling environment did not run:\n%s", stdout)
	}
	if !strings.Contains(stdout, "start_container") {
		t.Errorf("summary does not name the failed step:\n%s", stdout)
	}
}

func TestRunReport(t *testing.T) {
	path := writeMatrix(t, passFailCUE)
	reportPath := filepath.Join(t.TempDir(), "result.json")

	_, _, err := runCLI(t, testConfig(), "run", "-f", path, "--report", reportPath)
	requireExitCode(t, err, types.ExitFailure)

	var doc struct {
		Total        int `json:"total"`
		Failed       int `json:"failed"`
		Environments []struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			FailedCommand string `json:"failed_command"`
			ExitCode      int    `json:"exit_code"`
		} `json:"environments"`
	}
	if err := json.Unmarshal([]byte(testutil.MustReadFile(t, reportPath)), &doc); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if doc.Total != 2 || doc.Failed != 1 || len(doc.Environments) != 2 {
		t.Fatalf("unexpected report: %+v", doc)
	}
	first := doc.Environments[0]
	if first.ID != "first" || first.Status != "failed" || first.FailedCommand != "exit 3" || first.ExitCode != 3 {
		t.Errorf("unexpected first environment: %+v", first)
	}
}

func TestRunReportUnsupportedFormat(t *testing.T) {
	path := writeMatrix(t, passFailCUE)
	reportPath := filepath.Join(t.TempDir(), "result.txt")

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path, "--report", reportPath)
	requireExitCode(t, err, types.ExitUsage)
	if !errors.Is(err, report.ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}
	if strings.Contains(stdout, "first-ran") {
		t.Errorf("an environment ran before the report path was rejected:\n%s", stdout)
	}
}

func TestRunReportWriteFailure(t *testing.T) {
	path := writeMatrix(t, versionedCUE)
	blocker := testutil.MustWriteFile(t, t.TempDir(), "not-a-dir", "")

	stdout, _, err := runCLI(t, testConfig(), "run", "-f", path, "-e", "unit-py39", "--report", filepath.Join(blocker, "result.json"))
	requireExitCode(t, err, types.ExitFailure)
	if !strings.Contains(stdout, "succeeded: 1") {
		t.Errorf("environment did not run before the report was written:\n%s", stdout)
	}

	var actionable *issue.ActionableError
	if !errors.As(err, &actionable) {
		t.Fatalf("error = %v, want ActionableError", err)
	}
	if actionable.Operation != "write report" || !strings.HasSuffix(actionable.Resource, "result.json") {
		t.Errorf("actionable error = %+v", actionable)
	}
	if len(actionable.Suggestions) == 0 {
		t.Error("report failure carries no suggestion")
	}
}

func TestList(t *testing.T) {
	path := writeMatrix(t, versionedCUE)

	stdout, _, err := runCLI(t, testConfig(), "list", "-f", path)
	requireExitCode(t, err, types.ExitSuccess)

	for _, want := range []string{"unit-py39", "unit-py312", "lint", "Unit tests", "(3)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("list output missing %q:\n%s", want, stdout)
		}
	}
	if !regexp.MustCompile(`\* unit-py39`).MatchString(stdout) {
		t.Errorf("default selection not marked:\n%s", stdout)
	}
	if regexp.MustCompile(`\* lint`).MatchString(stdout) {
		t.Errorf("lint marked as default:\n%s", stdout)
	}

	verbose, _, err := runCLI(t, testConfig(), "list", "-v", "-f", path)
	requireExitCode(t, err, types.ExitSuccess)
	if !strings.Contains(verbose, "depends unit") || !strings.Contains(verbose, "version 3.12") {
		t.Errorf("verbose list missing details:\n%s", verbose)
	}
}

func TestShow(t *testing.T) {
	path := writeMatrix(t, versionedCUE)

	stdout, _, err := runCLI(t, testConfig(), "show", "-f", path, "lint")
	requireExitCode(t, err, types.ExitSuccess)

	for _, want := range []string{"lint", "runtime: virtual", "deps: ruff", " - exit 1", "depends: unit"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("show output missing %q:\n%s", want, stdout)
		}
	}
	if !regexp.MustCompile(`dependency_hash: [0-9a-f]{64}`).MatchString(stdout) {
		t.Errorf("show output has no dependency hash:\n%s", stdout)
	}

	_, _, err = runCLI(t, testConfig(), "show", "-f", path, "nope")
	requireExitCode(t, err, types.ExitUsage)
}

func TestValidate(t *testing.T) {
	valid := writeMatrix(t, versionedCUE)
	stdout, _, err := runCLI(t, testConfig(), "validate", "-f", valid)
	requireExitCode(t, err, types.ExitSuccess)
	if !strings.Contains(stdout, "is valid (2 definitions, 3 environments)") {
		t.Errorf("unexpected validate output:\n%s", stdout)
	}

	cyclic := writeMatrix(t, `
envs: [
	{name: "a", commands: ["true"], depends: ["b"]},
	{name: "b", commands: ["true"], depends: ["a"]},
]
`)
	_, _, err = runCLI(t, testConfig(), "validate", "-f", cyclic)
	requireExitCode(t, err, types.ExitFailure)
	if id := issueFor(err); id == 0 {
		t.Errorf("cycle error %v has no catalog issue", err)
	}

	invalid := writeMatrix(t, `envs: [{name: "bad name!", commands: []}]`)
	_, _, err = runCLI(t, testConfig(), "validate", "-f", invalid)
	requireExitCode(t, err, types.ExitFailure)
}

func TestInit(t *testing.T) {
	t.Chdir(t.TempDir())

	stdout, _, err := runCLI(t, testConfig(), "init")
	requireExitCode(t, err, types.ExitSuccess)
	if !strings.Contains(stdout, "Created") {
		t.Errorf("unexpected init output:\n%s", stdout)
	}
	if _, err := matrixfile.ParseFile(matrixfile.CUEFileName); err != nil {
		t.Fatalf("starter matrix does not parse: %v", err)
	}

	_, _, err = runCLI(t, testConfig(), "init")
	requireExitCode(t, err, types.ExitUsage)

	_, _, err = runCLI(t, testConfig(), "init", "--force")
	requireExitCode(t, err, types.ExitSuccess)

	_, _, err = runCLI(t, testConfig(), "init", "--format", "toml")
	requireExitCode(t, err, types.ExitSuccess)
	if _, err := matrixfile.ParseFile(matrixfile.TOMLFileName); err != nil {
		t.Fatalf("starter TOML matrix does not parse: %v", err)
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.cue")

	stdout, _, err := runCLI(t, testConfig(), "config", "path", "--config", cfgPath)
	requireExitCode(t, err, types.ExitSuccess)
	if strings.TrimSpace(stdout) != cfgPath {
		t.Errorf("config path = %q, want %q", strings.TrimSpace(stdout), cfgPath)
	}

	stdout, _, err = runCLI(t, testConfig(), "config", "init", "--config", cfgPath)
	requireExitCode(t, err, types.ExitSuccess)
	if !strings.Contains(stdout, "Created default configuration") {
		t.Errorf("unexpected config init output:\n%s", stdout)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	stdout, _, err = runCLI(t, testConfig(), "config", "init", "--config", cfgPath)
	requireExitCode(t, err, types.ExitSuccess)
	if !strings.Contains(stdout, "already exists") {
		t.Errorf("second config init overwrote:\n%s", stdout)
	}

	stdout, _, err = runCLI(t, testConfig(), "config", "show")
	requireExitCode(t, err, types.ExitSuccess)
	for _, want := range []string{"default_runtime: virtual", "parallel: 1", "(using defaults)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("config show missing %q:\n%s", want, stdout)
		}
	}
}

func TestCompletion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		stdout, _, err := runCLI(t, testConfig(), "completion", shell)
		requireExitCode(t, err, types.ExitSuccess)
		if !strings.Contains(stdout, "envrun") {
			t.Errorf("%s completion does not mention envrun", shell)
		}
	}
}

func TestLoadMatrixErrors(t *testing.T) {
	dir := t.TempDir()
	broken := testutil.MustWriteFile(t, dir, "broken.cue", `envs: [{name: "has space", commands: ["x"]}]`)

	tests := []struct {
		name       string
		chdir      string
		path       string
		operation  string
		wantIssue  issue.ID
		suggestion string
	}{
		{"nothing discovered", t.TempDir(), "", "find matrix file", issue.MatrixFileNotFoundID, "envrun init"},
		{"explicit path missing", "", filepath.Join(dir, "missing.cue"), "load matrix file", issue.MatrixFileNotFoundID, ""},
		{"schema violation", "", broken, "load matrix file", issue.MatrixFileParseErrorID, "envrun validate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.chdir != "" {
				t.Chdir(tt.chdir)
			}
			_, err := (&App{}).loadMatrix(tt.path)

			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("loadMatrix() error = %v, want ActionableError", err)
			}
			if ae.Operation != tt.operation || ae.Issue != tt.wantIssue {
				t.Errorf("error = %+v", ae)
			}
			if issueFor(err) != tt.wantIssue {
				t.Errorf("issueFor() = %d, want %d", issueFor(err), tt.wantIssue)
			}
			if tt.suggestion != "" && !strings.Contains(strings.Join(ae.Suggestions, "\n"), tt.suggestion) {
				t.Errorf("suggestions %q missing %q", ae.Suggestions, tt.suggestion)
			}
		})
	}
}
