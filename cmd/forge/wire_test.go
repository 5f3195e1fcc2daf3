package main

import (
	"path/filepath"
	"testing"

	"github.com/forgeai/engine/internal/config"
	"github.com/forgeai/engine/internal/llm"
	"github.com/forgeai/engine/internal/toolloop"
	"github.com/stretchr/testify/require"
)

func TestSelectProvider_DispatchesByModelPrefix(t *testing.T) {
	cfg := config.Defaults()
	cfg.App.Model = "claude-sonnet-4-5"
	p, err := selectProvider(cfg)
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())

	cfg.App.Model = "gpt-5"
	p, err = selectProvider(cfg)
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())

	cfg.App.Model = "gemini-2.5-pro"
	p, err = selectProvider(cfg)
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name())
}

func TestSelectProvider_EmptyModelDefaultsToAnthropic(t *testing.T) {
	cfg := config.Defaults()
	p, err := selectProvider(cfg)
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())
}

func TestSelectProvider_UnknownModelErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.App.Model = "mystery-model-9000"
	_, err := selectProvider(cfg)
	require.Error(t, err)
}

func TestCategoryOf_ClassifiesKnownTools(t *testing.T) {
	require.Equal(t, toolloop.TimeoutShellCommand, categoryOf("shell"))
	require.Equal(t, toolloop.TimeoutFileOps, categoryOf("read_file"))
	require.Equal(t, toolloop.TimeoutDefault, categoryOf("glob"))
}

func TestContextWindowFor_PicksVendorDefault(t *testing.T) {
	require.Equal(t, 200_000, contextWindowFor("claude-sonnet-4-5"))
	require.Equal(t, 1_000_000, contextWindowFor("gemini-2.5-pro"))
	require.Equal(t, 128_000, contextWindowFor("gpt-5"))
}

func TestToSet_BuildsMembershipMap(t *testing.T) {
	set := toSet([]string{"a", "b"})
	require.True(t, set["a"])
	require.True(t, set["b"])
	require.False(t, set["c"])
}

func TestSessionAutosaveFunc_WritesHistoryJSON(t *testing.T) {
	dir := t.TempDir()
	save := sessionAutosaveFunc(dir, "sess-1")

	h := llm.NewHistory()
	h.Append(llm.NewUserMessage("hi"), 0)

	require.NoError(t, save(h))
	require.FileExists(t, filepath.Join(dir, "sessions", "sess-1.json"))
}
