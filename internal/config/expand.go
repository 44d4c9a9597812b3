// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"os"
	"strings"
)

// expandEnv substitutes ${VAR}, ${VAR:-default} and ${VAR:?message}
// references in raw config bytes before YAML decoding. Plain ${VAR} with the
// variable unset expands to the empty string. ${VAR:?message} fails the load
// when the variable is unset or empty.
func expandEnv(raw []byte) ([]byte, error) {
	var expandErr error
	expanded := os.Expand(string(raw), func(ref string) string {
		name, op, arg := splitRef(ref)
		if name == "" {
			// Not a ${...} form we understand, leave a literal marker out.
			return ""
		}
		value, exists := os.LookupEnv(name)
		switch op {
		case ":-":
			if !exists || value == "" {
				return arg
			}
			return value
		case ":?":
			if !exists || value == "" {
				msg := arg
				if msg == "" {
					msg = "required but not set"
				}
				if expandErr == nil {
					expandErr = fmt.Errorf("config: variable %s: %s", name, msg)
				}
				return ""
			}
			return value
		default:
			return value
		}
	})
	if expandErr != nil {
		return nil, expandErr
	}
	return []byte(expanded), nil
}

// splitRef splits the inner content of a ${...} reference into the variable
// name, the operator (":-" or ":?") and the operator argument.
func splitRef(ref string) (name, op, arg string) {
	if i := strings.Index(ref, ":-"); i >= 0 {
		return ref[:i], ":-", ref[i+2:]
	}
	if i := strings.Index(ref, ":?"); i >= 0 {
		return ref[:i], ":?", ref[i+2:]
	}
	return ref, "", ""
}
