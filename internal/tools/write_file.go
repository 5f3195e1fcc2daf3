package tools

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/forgeai/engine/internal/toolapi"
)

// WriteFileTool creates or overwrites a file, grounded on the teacher's
// write.go: parent directories are created as needed, the sandbox resolves
// the create-path (including the not-yet-existing leaf) before any bytes
// touch disk.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool { return &WriteFileTool{} }

type writeFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the file to write"},
			"content":   map[string]any{"type": "string", "description": "Full file content to write"},
		},
		"required":             []any{"file_path", "content"},
		"additionalProperties": false,
	}
}

func (t *WriteFileTool) ApprovalRequirement() toolapi.ApprovalRequirement { return toolapi.ApprovalNever }
func (t *WriteFileTool) EffectProfile(json.RawMessage) toolapi.EffectProfile {
	return toolapi.EffectSideEffecting
}
func (t *WriteFileTool) RiskLevel(json.RawMessage) toolapi.RiskLevel { return toolapi.RiskMedium }
func (t *WriteFileTool) Timeout() time.Duration                      { return 0 }

func (t *WriteFileTool) Preview(args json.RawMessage) (string, []string) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return "", nil
	}
	return a.FilePath, nil
}

func (t *WriteFileTool) Execute(_ context.Context, args json.RawMessage, tctx *toolapi.Ctx) (toolapi.Result, *toolapi.Error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "invalid arguments: %v", err)
	}
	if a.FilePath == "" {
		return toolapi.Result{}, toolapi.New(toolapi.ErrBadArgs, "file_path is required")
	}

	resolved, vErr := tctx.Sandbox.ResolvePathForCreate(a.FilePath, tctx.WorkingDir)
	if vErr != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrSandboxViolation, "%v", vErr)
	}

	if err := os.MkdirAll(parentDir(resolved), 0o755); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "create parent dirs: %v", err)
	}
	if err := tctx.Sandbox.ValidateCreatedParent(resolved); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrSandboxViolation, "%v", err)
	}
	if err := os.WriteFile(resolved, []byte(a.Content), 0o644); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "write error: %v", err)
	}

	tctx.Changes.Record(resolved)
	tctx.FileCache.Put(resolved, toolapi.ObservedRegion{StartLine: 1, EndLine: lineCount(a.Content), Hash: hashString(a.Content)})

	return toolapi.Result{Content: "wrote " + a.FilePath}, nil
}
