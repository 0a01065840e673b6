// SPDX-License-Identifier: MPL-2.0

package isolation

import (
	"encoding/hex"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// DependencySet is everything that determines the contents of an
// environment directory. Two environments with equal sets can share an
// installed directory.
type DependencySet struct {
	Version     string
	Extras      []string
	Deps        []string
	SkipInstall bool
	PackageRoot string
	Image       string
	// Scripts are the installer scripts that populate the directory.
	Scripts Scripts
}

// Hash returns the hex BLAKE3 digest of the set's canonical encoding.
// Extras and Deps are order-insensitive; scripts are compared after
// trimming surrounding whitespace.
func (s DependencySet) Hash() string {
	h := blake3.New()
	writeField(h, "version", s.Version)
	writeList(h, "extras", s.Extras)
	writeList(h, "deps", s.Deps)
	writeField(h, "skip_install", strconv.FormatBool(s.SkipInstall))
	writeField(h, "package_root", s.PackageRoot)
	writeField(h, "image", s.Image)
	steps := slices.Sorted(maps.Keys(s.Scripts))
	writeField(h, "scripts#", strconv.Itoa(len(steps)))
	for _, step := range steps {
		writeField(h, "script:"+step.String(), strings.TrimSpace(s.Scripts[step]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes every value so that adjacent fields cannot
// run into each other.
func writeField(w io.Writer, name, value string) {
	_, _ = io.WriteString(w, name+":"+strconv.Itoa(len(value))+":"+value+"\n")
}

func writeList(w io.Writer, name string, values []string) {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	writeField(w, name+"#", strconv.Itoa(len(sorted)))
	for _, v := range sorted {
		writeField(w, name, v)
	}
}
