// Package config loads the sitemapper.yaml configuration file.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} with the value of VAR and ${VAR:-default} with
// the value of VAR, or default when VAR is unset or empty.
//
// An unset variable without a default expands to the empty string; a
// required setting left empty fails in Validate instead.
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[2]
	})
}

// UnsetVars returns the variables referenced without a default that are
// unset or empty, in order of first reference.
func UnsetVars(input string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range envRef.FindAllStringSubmatch(input, -1) {
		if m[2] != "" || os.Getenv(m[1]) != "" || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
