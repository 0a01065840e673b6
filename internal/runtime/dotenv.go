// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/subosito/gotenv"
)

// LoadEnvFile loads a dotenv file and merges its contents into env.
// Relative paths resolve against basePath. A trailing '?' marks the file
// optional: a missing optional file is skipped.
func LoadEnvFile(env map[string]string, path, basePath string) error {
	optional := strings.HasSuffix(path, "?")
	path = strings.TrimSuffix(path, "?")

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(basePath, filepath.FromSlash(path))
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read env file '%s': %w", path, err)
	}

	return ParseEnvFile(env, content, path)
}

// ParseEnvFile parses dotenv content and merges it into env. Comments,
// blank lines, `export` prefixes, quoting and ${VAR} expansion follow gotenv.
func ParseEnvFile(env map[string]string, content []byte, filename string) error {
	parsed, err := gotenv.StrictParse(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	maps.Copy(env, parsed)
	return nil
}
