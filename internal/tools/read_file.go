// Package tools holds the concrete executors (read_file, write_file,
// edit_file, shell, grep, glob) that implement toolapi.Tool. Grounded on the
// teacher's internal/tools/{read,write,edit,shell,grep,glob}.go, generalised
// to resolve every path through internal/sandbox instead of trusting the
// path directly, and to return toolapi.Result/*toolapi.Error instead of the
// teacher's llm.ToolOutput.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/forgeai/engine/internal/toolapi"
)

// ReadFileLimits mirrors spec.md §6's tools.read_file config block.
type ReadFileLimits struct {
	MaxFileReadBytes int64
	MaxScanBytes     int64
}

type ReadFileTool struct {
	limits ReadFileLimits
}

func NewReadFileTool(limits ReadFileLimits) *ReadFileTool {
	return &ReadFileTool{limits: limits}
}

type readFileArgs struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":  map[string]any{"type": "string", "description": "Path to the file to read"},
			"start_line": map[string]any{"type": "integer", "description": "1-indexed start line (default: 1)"},
			"end_line":   map[string]any{"type": "integer", "description": "1-indexed end line (default: EOF)"},
		},
		"required":             []any{"file_path"},
		"additionalProperties": false,
	}
}

func (t *ReadFileTool) ApprovalRequirement() toolapi.ApprovalRequirement { return toolapi.ApprovalNever }
func (t *ReadFileTool) EffectProfile(json.RawMessage) toolapi.EffectProfile {
	return toolapi.EffectReadsUserData
}
func (t *ReadFileTool) RiskLevel(json.RawMessage) toolapi.RiskLevel { return toolapi.RiskLow }
func (t *ReadFileTool) Timeout() time.Duration                      { return 0 }

func (t *ReadFileTool) Preview(args json.RawMessage) (string, []string) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return "", nil
	}
	if a.StartLine > 0 && a.EndLine > 0 {
		return fmt.Sprintf("%s:%d-%d", a.FilePath, a.StartLine, a.EndLine), nil
	}
	return a.FilePath, nil
}

func (t *ReadFileTool) Execute(_ context.Context, args json.RawMessage, tctx *toolapi.Ctx) (toolapi.Result, *toolapi.Error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "invalid arguments: %v", err)
	}

	resolved, vErr := tctx.Sandbox.ResolvePath(a.FilePath, tctx.WorkingDir)
	if vErr != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrSandboxViolation, "%v", vErr)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return toolapi.Result{}, toolapi.NewFileError(toolapi.ErrExecutionFailed, a.FilePath, "file does not exist")
		}
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "stat failed: %v", err)
	}
	if info.Size() > t.limits.MaxScanBytes {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrLimitsExceeded, "file %s (%d bytes) exceeds max_scan_bytes", a.FilePath, info.Size())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "read error: %v", err)
	}
	if isBinaryContent(data) {
		return toolapi.Result{}, toolapi.NewFileError(toolapi.ErrExecutionFailed, a.FilePath, "file appears to be binary")
	}
	fileHash := hashString(string(data))
	if int64(len(data)) > t.limits.MaxFileReadBytes {
		data = data[:t.limits.MaxFileReadBytes]
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)
	start := 0
	if a.StartLine > 0 {
		start = a.StartLine - 1
	}
	if start >= total {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "start_line %d exceeds file length %d", a.StartLine, total)
	}
	end := total
	if a.EndLine > 0 && a.EndLine < total {
		end = a.EndLine
	}
	if start >= end {
		return toolapi.Result{Content: "No content in requested range."}, nil
	}

	var sb strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&sb, "%d: %s\n", start+i+1, line)
	}
	content := strings.TrimSuffix(sb.String(), "\n")

	region := toolapi.ObservedRegion{StartLine: start + 1, EndLine: end, Hash: fileHash}
	tctx.FileCache.Put(resolved, region)

	return toolapi.Result{Content: content}, nil
}

func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}
	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
