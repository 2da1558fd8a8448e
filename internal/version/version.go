// Package version carries the crew release version, embedded at build time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the release version with surrounding whitespace trimmed.
// An empty VERSION file reports "dev".
func Get() string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "dev"
	}
	return v
}
