package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/forgeai/engine/internal/toolapi"
)

const maxGlobResults = 200

// GlobTool finds files by glob pattern, grounded on the teacher's glob.go.
// Generalised to resolve the base path through internal/sandbox before
// walking it.
type GlobTool struct{}

func NewGlobTool() *GlobTool { return &GlobTool{} }

type globArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

type fileEntry struct {
	FilePath  string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern supporting ** for recursive matching, e.g. '**/*.go'"},
			"path":    map[string]any{"type": "string", "description": "Base directory for the search (defaults to current directory)"},
		},
		"required":             []any{"pattern"},
		"additionalProperties": false,
	}
}

func (t *GlobTool) ApprovalRequirement() toolapi.ApprovalRequirement { return toolapi.ApprovalNever }
func (t *GlobTool) EffectProfile(json.RawMessage) toolapi.EffectProfile {
	return toolapi.EffectReadsUserData
}
func (t *GlobTool) RiskLevel(json.RawMessage) toolapi.RiskLevel { return toolapi.RiskLow }
func (t *GlobTool) Timeout() time.Duration                      { return time.Minute }

func (t *GlobTool) Preview(args json.RawMessage) (string, []string) {
	var a globArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return "", nil
	}
	if a.Path != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Path), nil
	}
	return a.Pattern, nil
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage, tctx *toolapi.Ctx) (toolapi.Result, *toolapi.Error) {
	var a globArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "invalid arguments: %v", err)
	}
	if a.Pattern == "" {
		return toolapi.Result{}, toolapi.New(toolapi.ErrBadArgs, "pattern is required")
	}

	basePath := a.Path
	if basePath == "" {
		basePath = "."
	}
	absBasePath, vErr := tctx.Sandbox.ResolvePath(basePath, tctx.WorkingDir)
	if vErr != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrSandboxViolation, "%v", vErr)
	}

	var entries []fileEntry
	walkErr := filepath.WalkDir(absBasePath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != absBasePath {
			return filepath.SkipDir
		}
		if strings.HasPrefix(d.Name(), ".") && path != absBasePath {
			return nil
		}

		relPath, err := filepath.Rel(absBasePath, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(a.Pattern, relPath)
		if err != nil || !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, fileEntry{FilePath: path, IsDir: d.IsDir(), SizeBytes: info.Size(), ModTime: info.ModTime()})
		if len(entries) >= maxGlobResults {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "walk error: %v", walkErr)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.After(entries[j].ModTime) })

	if len(entries) == 0 {
		return toolapi.Result{Content: "No files matched the pattern."}, nil
	}
	return toolapi.Result{Content: formatGlobResults(entries, len(entries) >= maxGlobResults)}, nil
}

func formatGlobResults(entries []fileEntry, truncated bool) string {
	var sb strings.Builder
	for _, e := range entries {
		typeIndicator := "f"
		if e.IsDir {
			typeIndicator = "d"
		}
		fmt.Fprintf(&sb, "[%s] %s  %s  %s\n", typeIndicator, formatSize(e.SizeBytes), e.ModTime.Format("2006-01-02 15:04"), e.FilePath)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated at %d files]", maxGlobResults)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
