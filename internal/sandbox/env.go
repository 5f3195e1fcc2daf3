package sandbox

import (
	"strings"

	"github.com/gobwas/glob"
)

// defaultDenyEnvPatterns strips common secret-shaped variable names,
// matching spec.md §4.2's "names ending in _KEY|_TOKEN|_SECRET|_PASSWORD
// and vendor prefixes" requirement.
var defaultDenyEnvPatterns = []string{
	"*_KEY",
	"*_TOKEN",
	"*_SECRET",
	"*_PASSWORD",
	"*_CREDENTIAL",
	"*_CREDENTIALS",
	"AWS_*",
	"GOOGLE_*",
	"GCP_*",
	"AZURE_*",
	"ANTHROPIC_*",
	"OPENAI_*",
	"GITHUB_TOKEN",
	"NPM_TOKEN",
}

// EnvSanitizer filters a process environment down to entries whose names
// match none of its deny patterns. Every tool that spawns a subprocess
// MUST route its environment through this, per spec.md §4.2.
type EnvSanitizer struct {
	denyGlobs []glob.Glob
}

func NewEnvSanitizer(patterns []string, includeDefaults bool) (*EnvSanitizer, error) {
	all := append([]string{}, patterns...)
	if includeDefaults {
		all = append(all, defaultDenyEnvPatterns...)
	}
	globs := make([]glob.Glob, 0, len(all))
	for _, p := range all {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return &EnvSanitizer{denyGlobs: globs}, nil
}

// SanitizeEnv filters a raw "KEY=VALUE" environment slice (as returned by
// os.Environ) down to entries whose key matches none of the deny patterns.
func (e *EnvSanitizer) SanitizeEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if e.denied(key) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func (e *EnvSanitizer) denied(key string) bool {
	for _, g := range e.denyGlobs {
		if g.Match(key) {
			return true
		}
	}
	return false
}
