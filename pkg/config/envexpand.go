package config

import "os"

// ExpandEnv expands environment variables in YAML content using the standard
// library's shell-style substitution (${VAR} and $VAR). Missing variables
// expand to the empty string; validation is responsible for catching
// required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
