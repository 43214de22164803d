package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns the process environment as a cty object. Names that
// are not valid HCL identifiers have the offending characters replaced by
// underscores, so PATH stays env.PATH and MY.VAR becomes env.MY_VAR.
func GetEnvObject() cty.Value {
	return envObject(os.Environ())
}

func envObject(environ []string) cty.Value {
	attrs := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		attrs[identifier(key)] = cty.StringVal(value)
	}
	return cty.ObjectVal(attrs)
}

func identifier(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		digitOrDash := (r >= '0' && r <= '9') || r == '-'
		switch {
		case letter, i > 0 && digitOrDash:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
