// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/envrun/envrun/pkg/cueutil"

	"github.com/pelletier/go-toml/v2"
)

const (
	// CUEFileName is the default CUE matrix file name.
	CUEFileName = "envrun.cue"
	// TOMLFileName is the default TOML matrix file name.
	TOMLFileName = "envrun.toml"

	schemaRoot = "#Matrixfile"
)

var (
	//go:embed matrixfile_schema.cue
	matrixfileSchema []byte

	// ErrNotFound is returned by Discover when no matrix file exists.
	ErrNotFound = errors.New("no matrix file found")
)

// Discover returns the matrix file in dir, preferring envrun.cue over envrun.toml.
func Discover(dir string) (string, error) {
	for _, name := range []string{CUEFileName, TOMLFileName} {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %s, %s)", ErrNotFound, dir, CUEFileName, TOMLFileName)
}

// ParseFile reads a matrix file, choosing the format from its extension.
func ParseFile(path string) (*Matrixfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix file at %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return ParseTOML(data, path)
	case ".cue":
		return Parse(data, path)
	default:
		return nil, fmt.Errorf("unsupported matrix file format %q (expected .cue or .toml)", filepath.Ext(path))
	}
}

// Parse parses CUE matrix file content.
func Parse(data []byte, path string) (*Matrixfile, error) {
	result, err := cueutil.ParseAndDecode[Matrixfile](
		matrixfileSchema,
		data,
		schemaRoot,
		cueutil.WithFilename(path),
	)
	if err != nil {
		return nil, err
	}
	return finish(result.Value, path)
}

// ParseTOML parses TOML matrix file content. The document is decoded into
// plain values and validated against the same schema as CUE files.
func ParseTOML(data []byte, path string) (*Matrixfile, error) {
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %s", path, row, col, decodeErr.Error())
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	result, err := cueutil.DecodeValue[Matrixfile](matrixfileSchema, doc, schemaRoot, cueutil.WithFilename(path))
	if err != nil {
		return nil, err
	}
	return finish(result.Value, path)
}

func finish(mf *Matrixfile, path string) (*Matrixfile, error) {
	mf.FilePath = path
	if errs := mf.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return mf, nil
}
