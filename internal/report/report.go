// SPDX-License-Identifier: MPL-2.0

// Package report writes run summaries to result files.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/envrun/envrun/internal/app/execute"

	"gopkg.in/yaml.v3"
)

// DefaultMaxOutputBytes bounds each captured stream in a report.
const DefaultMaxOutputBytes = 64 * 1024

// ErrUnsupportedFormat is returned for report paths with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported report format")

type (
	// Document is the serialized form of a run summary.
	Document struct {
		RunID        string        `json:"run_id" yaml:"run_id"`
		Started      time.Time     `json:"started" yaml:"started"`
		DurationSecs float64       `json:"duration_seconds" yaml:"duration_seconds"`
		Total        int           `json:"total" yaml:"total"`
		Succeeded    int           `json:"succeeded" yaml:"succeeded"`
		Failed       int           `json:"failed" yaml:"failed"`
		Environments []Environment `json:"environments" yaml:"environments"`
	}

	// Environment is the serialized form of one environment result.
	Environment struct {
		ID            string    `json:"id" yaml:"id"`
		Status        string    `json:"status" yaml:"status"`
		DurationSecs  float64   `json:"duration_seconds" yaml:"duration_seconds"`
		Reused        bool      `json:"reused" yaml:"reused"`
		FailedCommand string    `json:"failed_command,omitempty" yaml:"failed_command,omitempty"`
		ExitCode      int       `json:"exit_code" yaml:"exit_code"`
		Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
		Commands      []Command `json:"commands" yaml:"commands"`
	}

	// Command is the serialized form of one command result.
	Command struct {
		Command      string   `json:"command" yaml:"command"`
		Args         []string `json:"args,omitempty" yaml:"args,omitempty"`
		ExitCode     int      `json:"exit_code" yaml:"exit_code"`
		Ignored      bool     `json:"ignored,omitempty" yaml:"ignored,omitempty"`
		DurationSecs float64  `json:"duration_seconds" yaml:"duration_seconds"`
		Stdout       string   `json:"stdout,omitempty" yaml:"stdout,omitempty"`
		Stderr       string   `json:"stderr,omitempty" yaml:"stderr,omitempty"`
		Error        string   `json:"error,omitempty" yaml:"error,omitempty"`
	}
)

// NewDocument converts a summary. Captured streams longer than maxOutput
// bytes keep their tail; maxOutput <= 0 keeps everything.
func NewDocument(s *execute.RunSummary, maxOutput int) *Document {
	doc := &Document{
		RunID:        s.RunID,
		Started:      s.Started.UTC(),
		DurationSecs: s.Duration.Seconds(),
		Total:        s.Total,
		Succeeded:    s.Succeeded,
		Failed:       s.Failed,
		Environments: make([]Environment, 0, len(s.Results)),
	}
	for i := range s.Results {
		r := &s.Results[i]
		env := Environment{
			ID:            r.ID,
			Status:        string(r.Status),
			DurationSecs:  r.Duration.Seconds(),
			Reused:        r.Reused,
			FailedCommand: r.FailedCommand,
			ExitCode:      int(r.ExitCode),
			Error:         errString(r.Err),
			Commands:      make([]Command, 0, len(r.Commands)),
		}
		for j := range r.Commands {
			c := &r.Commands[j]
			env.Commands = append(env.Commands, Command{
				Command:      c.Command,
				Args:         c.Args,
				ExitCode:     int(c.ExitCode),
				Ignored:      c.Ignored,
				DurationSecs: c.Duration.Seconds(),
				Stdout:       truncate(c.Stdout, maxOutput),
				Stderr:       truncate(c.Stderr, maxOutput),
				Error:        errString(c.Err),
			})
		}
		doc.Environments = append(doc.Environments, env)
	}
	return doc
}

// Write writes s to path as JSON (.json) or YAML (.yaml, .yml).
func Write(path string, s *execute.RunSummary, maxOutput int) error {
	data, err := Marshal(filepath.Ext(path), NewDocument(s, maxOutput))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// CheckPath reports whether path names a supported report format.
func CheckPath(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return nil
	default:
		return unsupported(filepath.Ext(path))
	}
}

// Marshal encodes doc in the format named by a file extension.
func Marshal(ext string, doc *Document) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case ".yaml", ".yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, unsupported(ext)
	}
}

func unsupported(ext string) error {
	return fmt.Errorf("%w %q (use .json, .yaml or .yml)", ErrUnsupportedFormat, ext)
}

const truncatedMarker = "[truncated]\n"

// truncate keeps at most limit trailing bytes of s, starting on a rune
// boundary.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	start := len(s) - limit
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return truncatedMarker + s[start:]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
