// Package config holds helpers shared by every configuration loader.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes environment references in input.
//
//	${VAR}          value of VAR, or "" when unset
//	${VAR:-default} value of VAR, or default when unset or empty
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if value, ok := os.LookupEnv(m[1]); ok && value != "" {
			return value
		}
		if m[2] != "" {
			return m[3]
		}
		return ""
	})
}

// ExpandEnvBytes is ExpandEnv for file contents.
func ExpandEnvBytes(input []byte) []byte {
	return []byte(ExpandEnv(string(input)))
}

// MissingEnvVars lists variables referenced without a default that are unset
// or empty, in order of first reference.
func MissingEnvVars(input string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, m := range envRef.FindAllStringSubmatch(input, -1) {
		name := m[1]
		if seen[name] || m[2] != "" {
			continue
		}
		seen[name] = true
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
