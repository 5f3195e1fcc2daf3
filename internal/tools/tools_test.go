package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeai/engine/internal/sandbox"
	"github.com/forgeai/engine/internal/toolapi"
)

func newTestCtx(t *testing.T, root string) *toolapi.Ctx {
	t.Helper()
	sb, err := sandbox.New(sandbox.Config{AllowedRoots: []string{root}, IncludeDefaultDenies: true})
	require.NoError(t, err)
	return &toolapi.Ctx{
		Sandbox:        sb,
		WorkingDir:     root,
		Changes:        toolapi.NewChangeRecorder(),
		FileCache:      toolapi.NewFileCache(),
		MaxOutputBytes: 1 << 20,
	}
}

func TestReadFileTool_ReadsRangeAndCachesRegion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	tool := NewReadFileTool(ReadFileLimits{MaxFileReadBytes: 1 << 20, MaxScanBytes: 1 << 20})
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"file_path": "a.txt", "start_line": 2, "end_line": 3})
	res, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Contains(t, res.Content, "2: two")
	require.Contains(t, res.Content, "3: three")

	resolved, err := tctx.Sandbox.ResolvePath("a.txt", dir)
	require.NoError(t, err)
	_, ok := tctx.FileCache.Get(resolved)
	require.True(t, ok)
}

func TestReadFileTool_RejectsBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin.dat")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03}, 0o644))

	tool := NewReadFileTool(ReadFileLimits{MaxFileReadBytes: 1 << 20, MaxScanBytes: 1 << 20})
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"file_path": "bin.dat"})
	_, tErr := tool.Execute(context.Background(), args, tctx)
	require.NotNil(t, tErr)
	require.Equal(t, toolapi.ErrExecutionFailed, tErr.Kind)
}

func TestWriteFileTool_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool()
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"file_path": "nested/out.txt", "content": "hello"})
	res, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Contains(t, res.Content, "wrote")

	data, err := os.ReadFile(filepath.Join(dir, "nested", "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Len(t, tctx.Changes.Files(), 1)
}

func TestEditFileTool_ReplacesUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	tool := NewEditFileTool(EditFileLimits{MaxPatchBytes: 1 << 20})
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"file_path": "a.txt", "old_text": "world", "new_text": "there"})
	res, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Contains(t, res.Content, "edited")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello there", string(data))
}

func TestEditFileTool_RejectsAmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("aa aa"), 0o644))

	tool := NewEditFileTool(EditFileLimits{MaxPatchBytes: 1 << 20})
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"file_path": "a.txt", "old_text": "aa", "new_text": "b"})
	_, tErr := tool.Execute(context.Background(), args, tctx)
	require.NotNil(t, tErr)
	require.Equal(t, toolapi.ErrPatchFailed, tErr.Kind)
}

func TestEditFileTool_DetectsStaleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("version one"), 0o644))

	tool := NewEditFileTool(EditFileLimits{MaxPatchBytes: 1 << 20})
	tctx := newTestCtx(t, dir)

	resolved, err := tctx.Sandbox.ResolvePath("a.txt", dir)
	require.NoError(t, err)
	tctx.FileCache.Put(resolved, toolapi.ObservedRegion{StartLine: 1, EndLine: 1, Hash: "stale-hash"})

	args, _ := json.Marshal(map[string]any{"file_path": "a.txt", "old_text": "one", "new_text": "two"})
	_, tErr := tool.Execute(context.Background(), args, tctx)
	require.NotNil(t, tErr)
	require.Equal(t, toolapi.ErrStaleFile, tErr.Kind)
}

func TestShellTool_RunsCommandAndCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(ShellLimits{MaxOutputBytes: 1 << 16, DefaultTimeout: 0})
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"command": "echo hi"})
	res, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Contains(t, res.Content, "hi")
	require.Contains(t, res.Content, "exit_code: 0")
}

func TestShellTool_RecordsSpawnedProcess(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(ShellLimits{MaxOutputBytes: 1 << 16, DefaultTimeout: 5 * time.Second})
	tctx := newTestCtx(t, dir)

	var gotPid int
	var gotStartedAt int64
	tctx.RecordProcess = func(pid int, startedAtMs int64) {
		gotPid = pid
		gotStartedAt = startedAtMs
	}

	args, _ := json.Marshal(map[string]any{"command": "echo hi"})
	_, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Positive(t, gotPid)
	require.Positive(t, gotStartedAt)
}

func TestShellTool_DeniesMatchingDenylist(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(ShellLimits{MaxOutputBytes: 1 << 16})
	tctx := newTestCtx(t, dir)
	tctx.CommandDeny = []string{"rm *"}

	args, _ := json.Marshal(map[string]any{"command": "rm -rf /"})
	_, tErr := tool.Execute(context.Background(), args, tctx)
	require.NotNil(t, tErr)
	require.Equal(t, toolapi.ErrDenylisted, tErr.Kind)
}

func TestGlobTool_MatchesRecursivePattern(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))

	tool := NewGlobTool()
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"pattern": "**/*.go"})
	res, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Contains(t, res.Content, "f.go")
	require.NotContains(t, res.Content, "f.txt")
}

func TestGrepTool_FindsMatchInFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha\nbeta\ngamma\n"), 0o644))

	tool := NewGrepTool(GrepLimits{MaxResults: 10})
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"pattern": "beta"})
	res, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Contains(t, res.Content, "beta")
}

func TestGrepTool_NoMatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha\n"), 0o644))

	tool := NewGrepTool(GrepLimits{MaxResults: 10})
	tctx := newTestCtx(t, dir)

	args, _ := json.Marshal(map[string]any{"pattern": "zzz-not-found"})
	res, tErr := tool.Execute(context.Background(), args, tctx)
	require.Nil(t, tErr)
	require.Equal(t, "No matches found.", res.Content)
}
