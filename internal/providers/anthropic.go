// Package providers adapts each vendor's wire dialect into llm.Provider.
// Grounded on the teacher's internal/llm/anthropic.go, openai_compat.go, and
// gemini_cli.go, generalised to funnel every dialect through the unified
// llm.Event vocabulary before the tool loop ever sees it.
package providers

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgeai/engine/internal/llm"
)

// oauthBetaHeader is required on every request when authenticating with an
// OAuth bearer token, grounded on the teacher's newOAuthClient.
const oauthBetaHeader = "oauth-2025-04-20"

// AnthropicProvider implements llm.Provider over anthropic-sdk-go's native
// streaming accumulator. The SDK already performs SSE framing and JSON
// decoding; this adapter's job is purely translating its event union into
// the unified llm.Event vocabulary, the same normalisation role the
// teacher's dialect-specific code plays for Anthropic/OpenAI/Gemini.
type AnthropicProvider struct {
	client     anthropic.Client
	model      string
	credential string
}

// NewAnthropicProvider builds a provider from either a plain API key or an
// OAuth bearer token, mirroring the teacher's credential cascade.
func NewAnthropicProvider(apiKey, oauthToken, model string) *AnthropicProvider {
	var client anthropic.Client
	credential := "api_key"
	if oauthToken != "" {
		client = anthropic.NewClient(
			option.WithAuthToken(oauthToken),
			option.WithHeader("anthropic-beta", oauthBetaHeader),
		)
		credential = "oauth"
	} else {
		client = anthropic.NewClient(option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: client, model: model, credential: credential}
}

func (p *AnthropicProvider) Name() string       { return "anthropic" }
func (p *AnthropicProvider) Credential() string { return p.credential }
func (p *AnthropicProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{ToolCalls: true, NativeWebSearch: true}
}

func (p *AnthropicProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, p.model)),
		MaxTokens: int64(nonZero(req.MaxOutputTokens, 4096)),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if sys := systemText(req.Messages); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	sdkStream := p.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{sdk: sdkStream, itemIDs: make(map[int64]string)}, nil
}

// anthropicStream adapts the SDK's ssestream.Stream[MessageStreamEventUnion]
// into llm.Stream, translating content-block deltas keyed by block index
// (the SDK's analogue of the "provider-internal item-id" spec.md §4.6
// describes) into unified events keyed by the tool_use block's own id.
type anthropicStream struct {
	sdk     *anthropic.MessageStream
	itemIDs map[int64]string
	pending []llm.Event
}

func (s *anthropicStream) Recv() (llm.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if !s.sdk.Next() {
			if err := s.sdk.Err(); err != nil {
				return llm.Event{Type: llm.EventError, Err: err}, nil
			}
			return llm.Event{Type: llm.EventDone}, nil
		}
		s.pending = translateAnthropicEvent(s.sdk.Current(), s.itemIDs)
	}
}

func (s *anthropicStream) Close() error {
	return nil
}

func chooseModel(reqModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	return fallback
}

func nonZero(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func systemText(msgs []llm.Message) string {
	for _, m := range msgs {
		if m.Kind == llm.KindSystem {
			return m.Text
		}
	}
	return ""
}

func toAnthropicMessages(msgs []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case llm.KindUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case llm.KindAssistant:
			if m.Text != "" {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
			}
		case llm.KindToolUse:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(m.CallID, json.RawMessage(m.Arguments), m.ToolName)))
		case llm.KindToolResult:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.CallID, m.Content, m.IsError)))
		}
	}
	return out
}

func toAnthropicTools(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, t := range specs {
		props, _ := t.Schema["properties"].(map[string]any)
		required := schemaRequired(t.Schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	return out
}

func schemaRequired(schema map[string]any) []string {
	raw, _ := schema["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// translateAnthropicEvent converts one SDK stream event into zero or more
// unified events, matching spec.md §4.6's adapter responsibilities:
// maintain an item-id map, preserve Start-then-Delta ordering, and collapse
// provider finish reasons to Done/Error.
func translateAnthropicEvent(evt anthropic.MessageStreamEventUnion, itemIDs map[int64]string) []llm.Event {
	switch evt.Type {
	case "content_block_start":
		block := evt.ContentBlock
		if block.Type == "tool_use" {
			itemIDs[evt.Index] = block.ID
			return []llm.Event{{Type: llm.EventToolCallStart, CallID: block.ID, ToolName: block.Name}}
		}
		return nil
	case "content_block_delta":
		delta := evt.Delta
		switch delta.Type {
		case "text_delta":
			return []llm.Event{{Type: llm.EventTextDelta, Text: delta.Text}}
		case "thinking_delta":
			return []llm.Event{{Type: llm.EventThinkingDelta, Text: delta.Thinking}}
		case "signature_delta":
			return []llm.Event{{Type: llm.EventThinkingSignature, ThinkingSignature: delta.Signature}}
		case "input_json_delta":
			if callID, ok := itemIDs[evt.Index]; ok {
				return []llm.Event{{Type: llm.EventToolCallDelta, CallID: callID, ArgsFragment: delta.PartialJSON}}
			}
		}
		return nil
	case "message_delta":
		u := evt.Usage
		return []llm.Event{{Type: llm.EventUsage, Usage: &llm.Usage{
			OutputTokens: int(u.OutputTokens),
		}}}
	case "message_start":
		u := evt.Message.Usage
		return []llm.Event{{Type: llm.EventUsage, Usage: &llm.Usage{
			InputTokens:       int(u.InputTokens),
			CachedInputTokens: int(u.CacheReadInputTokens),
			CacheWriteTokens:  int(u.CacheCreationInputTokens),
		}}}
	case "message_stop":
		return []llm.Event{{Type: llm.EventDone}}
	default:
		return nil
	}
}
