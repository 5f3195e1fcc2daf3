package llm

import "context"

// Capabilities describe optional provider features, mirrored from the
// teacher's llm.Capabilities but trimmed to what the unified event
// vocabulary actually needs to branch on.
type Capabilities struct {
	ToolCalls       bool
	NativeWebSearch bool
	NativeWebFetch  bool
	ManagesOwnContext bool
}

// Provider streams normalised model output for a single request. Each
// concrete provider (internal/providers) adapts its own wire dialect into
// the unified Event vocabulary before this interface ever sees it — "never
// leaked inward" (spec section 6). The Gemini adapter builds on
// internal/sse; the Anthropic and OpenAI adapters translate their SDKs'
// own event streams.
type Provider interface {
	Name() string
	Credential() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields normalised events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// ToolChoiceMode controls tool selection behavior for a request.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceName     ToolChoiceMode = "name"
)

type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// ToolSpec describes a callable tool as presented to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request represents a single provider turn.
type Request struct {
	Model             string
	Messages          []Message
	Tools             []ToolSpec
	ToolChoice        ToolChoice
	ParallelToolCalls bool
	Search            bool
	ForceExternalSearch bool
	MaxOutputTokens   int
	Temperature       float32
	TopP              float32
	Debug             bool
}

// Usage captures token usage reported by a provider for one step.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	CacheWriteTokens  int
}
