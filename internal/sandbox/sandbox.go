// Package sandbox canonicalises filesystem paths against an allow/deny
// policy and produces secret-stripped environments for child processes.
// Grounded on the teacher's custom_tool.go resolveScript TOCTOU pattern,
// generalised from one fixed agent directory to a configurable set of
// allow-roots and deny-glob patterns.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ViolationReason enumerates why a path was rejected.
type ViolationReason string

const (
	ReasonDenylisted     ViolationReason = "denylisted"
	ReasonNotUnderRoot   ViolationReason = "not_under_root"
	ReasonSymlink        ViolationReason = "symlink"
	ReasonAbsoluteDenied ViolationReason = "absolute_denied"
	ReasonDevice         ViolationReason = "device"
	ReasonLimitsExceeded ViolationReason = "limits_exceeded"
)

// Violation is returned by every Sandbox operation that rejects a path.
type Violation struct {
	Reason ViolationReason
	Path   string
	Detail string
}

func (v *Violation) Error() string {
	if v.Detail != "" {
		return fmt.Sprintf("sandbox: %s: %s (%s)", v.Reason, v.Path, v.Detail)
	}
	return fmt.Sprintf("sandbox: %s: %s", v.Reason, v.Path)
}

func violation(reason ViolationReason, path, detail string) error {
	return &Violation{Reason: reason, Path: path, Detail: detail}
}

// defaultDenyPatterns protects common credential locations. Grounded on
// spec.md §4.1's built-in deny-glob list.
var defaultDenyPatterns = []string{
	"**/.ssh/**",
	"**/.ssh",
	"**/.gnupg/**",
	"**/.gnupg",
	"**/.aws/**",
	"**/.aws",
	"**/.config/gcloud/**",
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/id_rsa*",
	"**/id_ed25519*",
	"**/.netrc",
}

// Config configures a Sandbox. AllowedRoots must be non-empty for any
// resolution to ever succeed; DeniedPatterns are always active, and the
// built-in deny set is added to them only when IncludeDefaultDenies is true.
type Config struct {
	AllowedRoots         []string
	DeniedPatterns       []string
	IncludeDefaultDenies bool
	AllowAbsolute        bool
}

// Sandbox is immutable once built, so it is cheap to clone/share across
// concurrently running tool executions, matching the teacher's pattern of
// cloning settings per request (spec.md §5, "Shared resources").
type Sandbox struct {
	roots         []string
	denyGlobs     []glob.Glob
	allowAbsolute bool
}

func New(cfg Config) (*Sandbox, error) {
	if len(cfg.AllowedRoots) == 0 {
		return nil, fmt.Errorf("sandbox: at least one allowed root is required")
	}
	roots := make([]string, 0, len(cfg.AllowedRoots))
	for _, r := range cfg.AllowedRoots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve allowed root %q: %w", r, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			real = abs
		}
		roots = append(roots, real)
	}

	patterns := append([]string{}, cfg.DeniedPatterns...)
	if cfg.IncludeDefaultDenies {
		patterns = append(patterns, defaultDenyPatterns...)
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("sandbox: compile deny pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	return &Sandbox{roots: roots, denyGlobs: globs, allowAbsolute: cfg.AllowAbsolute}, nil
}

func (s *Sandbox) underRoot(path string) bool {
	for _, r := range s.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Sandbox) denied(path string) bool {
	for _, g := range s.denyGlobs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (s *Sandbox) joinCWD(raw, cwd string) (string, error) {
	if filepath.IsAbs(raw) {
		if !s.allowAbsolute {
			return "", violation(ReasonAbsoluteDenied, raw, "absolute paths disabled")
		}
		return filepath.Clean(raw), nil
	}
	return filepath.Abs(filepath.Join(cwd, raw))
}

// ResolvePath resolves a path that must already exist. It canonicalises
// symlinks before the root-containment check, per spec.md §4.1.
func (s *Sandbox) ResolvePath(raw, cwd string) (string, error) {
	abs, err := s.joinCWD(raw, cwd)
	if err != nil {
		return "", err
	}
	if s.denied(abs) {
		return "", violation(ReasonDenylisted, abs, "")
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if !s.underRoot(abs) {
				return "", violation(ReasonNotUnderRoot, abs, "")
			}
			return "", fmt.Errorf("sandbox: %s: %w", abs, os.ErrNotExist)
		}
		return "", fmt.Errorf("sandbox: resolve symlinks for %s: %w", abs, err)
	}
	if s.denied(real) {
		return "", violation(ReasonDenylisted, real, "matched after symlink resolution")
	}
	if !s.underRoot(real) {
		return "", violation(ReasonNotUnderRoot, real, "")
	}
	info, err := os.Lstat(real)
	if err != nil {
		return "", fmt.Errorf("sandbox: stat %s: %w", real, err)
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return "", violation(ReasonDevice, real, info.Mode().String())
	}
	return real, nil
}

// ResolvePathForCreate resolves a path whose parent must already exist and
// be inside an allowed root; the target itself may not yet exist. If it
// does exist, it must independently pass ResolvePath.
func (s *Sandbox) ResolvePathForCreate(raw, cwd string) (string, error) {
	abs, err := s.joinCWD(raw, cwd)
	if err != nil {
		return "", err
	}
	if s.denied(abs) {
		return "", violation(ReasonDenylisted, abs, "")
	}
	parent := filepath.Dir(abs)
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("sandbox: parent %s: %w", parent, err)
	}
	if !s.underRoot(realParent) {
		return "", violation(ReasonNotUnderRoot, realParent, "parent directory")
	}
	if s.denied(realParent) {
		return "", violation(ReasonDenylisted, realParent, "parent directory")
	}

	target := filepath.Join(realParent, filepath.Base(abs))
	if _, err := os.Lstat(target); err == nil {
		return s.ResolvePath(raw, cwd)
	}
	return target, nil
}

// EnsurePathAllowed validates an already-obtained absolute path, e.g. one
// produced by a prior ResolvePath* call that is being re-checked after a
// directory was freshly created (closing the TOCTOU window per §4.1's
// validate_created_parent requirement).
func (s *Sandbox) EnsurePathAllowed(p string) error {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		if os.IsNotExist(err) {
			real = p
		} else {
			return fmt.Errorf("sandbox: resolve symlinks for %s: %w", p, err)
		}
	}
	if s.denied(real) {
		return violation(ReasonDenylisted, real, "")
	}
	if !s.underRoot(real) {
		return violation(ReasonNotUnderRoot, real, "")
	}
	return nil
}

// ValidateCreatedParent re-canonicalises a freshly created directory and
// re-checks containment, closing the race where a concurrent actor swaps
// the new directory for a symlink between creation and first use.
func (s *Sandbox) ValidateCreatedParent(child string) error {
	real, err := filepath.EvalSymlinks(child)
	if err != nil {
		return fmt.Errorf("sandbox: re-resolve created path %s: %w", child, err)
	}
	if real != child && !s.underRoot(real) {
		return violation(ReasonSymlink, child, "replaced by symlink escaping sandbox after creation")
	}
	return s.EnsurePathAllowed(real)
}
