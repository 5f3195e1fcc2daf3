package tools

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/forgeai/engine/internal/toolapi"
	"github.com/forgeai/engine/internal/toolloop"
)

// EditFileLimits mirrors spec.md §6's tools.apply_patch config block.
type EditFileLimits struct {
	MaxPatchBytes int64
}

// EditFileTool performs a deterministic old_text/new_text replacement,
// grounded on the teacher's edit.go direct-edit mode (the delegated
// natural-language mode is a Non-goal here — spec.md's "concrete built-in
// tool executors' rich behaviors" excludes it). Requires the target region
// to match the last hash Read or Edit observed for stale-file protection,
// the glossary's "Observed region" contract.
type EditFileTool struct {
	limits EditFileLimits
}

func NewEditFileTool(limits EditFileLimits) *EditFileTool {
	return &EditFileTool{limits: limits}
}

type editFileArgs struct {
	FilePath string `json:"file_path"`
	OldText  string `json:"old_text"`
	NewText  string `json:"new_text"`
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the file to edit"},
			"old_text":  map[string]any{"type": "string", "description": "Exact text to find and replace; must be unique in the file"},
			"new_text":  map[string]any{"type": "string", "description": "Replacement text"},
		},
		"required":             []any{"file_path", "old_text", "new_text"},
		"additionalProperties": false,
	}
}

func (t *EditFileTool) ApprovalRequirement() toolapi.ApprovalRequirement { return toolapi.ApprovalNever }
func (t *EditFileTool) EffectProfile(json.RawMessage) toolapi.EffectProfile {
	return toolapi.EffectSideEffectingAndReadsUserData
}
func (t *EditFileTool) RiskLevel(json.RawMessage) toolapi.RiskLevel { return toolapi.RiskMedium }
func (t *EditFileTool) Timeout() time.Duration                      { return 0 }

func (t *EditFileTool) Preview(args json.RawMessage) (string, []string) {
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return "", nil
	}
	return a.FilePath, nil
}

// Preflight rejects an oversized patch before the registry's generic
// schema validation even runs, per spec.md §4.8.2 step 6.
func (t *EditFileTool) Preflight(args json.RawMessage, _ toolloop.Limits) *toolapi.Error {
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil // let schema validation report the real problem
	}
	if t.limits.MaxPatchBytes > 0 && int64(len(a.OldText)+len(a.NewText)) > t.limits.MaxPatchBytes {
		return toolapi.Newf(toolapi.ErrLimitsExceeded, "patch exceeds max_patch_bytes (%d)", t.limits.MaxPatchBytes)
	}
	return nil
}

func (t *EditFileTool) Execute(_ context.Context, args json.RawMessage, tctx *toolapi.Ctx) (toolapi.Result, *toolapi.Error) {
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "invalid arguments: %v", err)
	}

	resolved, vErr := tctx.Sandbox.ResolvePath(a.FilePath, tctx.WorkingDir)
	if vErr != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrSandboxViolation, "%v", vErr)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolapi.Result{}, toolapi.NewFileError(toolapi.ErrExecutionFailed, a.FilePath, "read failed: "+err.Error())
	}
	content := string(data)

	if region, ok := tctx.FileCache.Get(resolved); ok {
		if region.Hash != hashString(content) {
			return toolapi.Result{}, toolapi.NewFileError(toolapi.ErrStaleFile, a.FilePath, "file changed since it was last read")
		}
	}

	count := strings.Count(content, a.OldText)
	if count == 0 {
		return toolapi.Result{}, toolapi.NewFileError(toolapi.ErrPatchFailed, a.FilePath, "old_text not found")
	}
	if count > 1 {
		return toolapi.Result{}, toolapi.NewFileError(toolapi.ErrPatchFailed, a.FilePath, "old_text is not unique in file")
	}

	updated := strings.Replace(content, a.OldText, a.NewText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "write failed: %v", err)
	}

	tctx.Changes.Record(resolved)
	tctx.FileCache.Put(resolved, toolapi.ObservedRegion{StartLine: 1, EndLine: lineCount(updated), Hash: hashString(updated)})

	return toolapi.Result{Content: "edited " + a.FilePath}, nil
}
