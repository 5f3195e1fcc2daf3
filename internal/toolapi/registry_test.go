package toolapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	schema map[string]any
}

func (s *stubTool) Name() string                                   { return s.name }
func (s *stubTool) Schema() map[string]any                         { return s.schema }
func (s *stubTool) ApprovalRequirement() ApprovalRequirement        { return ApprovalNever }
func (s *stubTool) EffectProfile(json.RawMessage) EffectProfile    { return EffectReadOnly }
func (s *stubTool) RiskLevel(json.RawMessage) RiskLevel            { return RiskLow }
func (s *stubTool) Timeout() time.Duration                         { return 0 }
func (s *stubTool) Execute(context.Context, json.RawMessage, *Ctx) (Result, *Error) {
	return Result{Content: "ok"}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "Read"}))

	m, ok := r.Get("Read")
	require.True(t, ok)
	require.Equal(t, "Read", m.Tool.Name())
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "Read"}))

	err := r.Register(&stubTool{name: "Read"})
	require.Error(t, err)
	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, ErrDuplicateTool, te.Kind)
}

func TestManifest_ValidateArgs(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"path"},
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
	}
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "Read", schema: schema}))
	m, _ := r.Get("Read")

	require.Nil(t, m.ValidateArgs([]byte(`{"path": "README"}`)))

	err := m.ValidateArgs([]byte(`{}`))
	require.NotNil(t, err)
	require.Equal(t, ErrBadArgs, err.Kind)
}
