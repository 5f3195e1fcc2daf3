package providers

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/forgeai/engine/internal/llm"
)

// OpenAIProvider implements llm.Provider over openai-go's Chat Completions
// streaming accumulator, grounded on the teacher's openai.go/codex.go
// (SPEC_FULL.md §2). Text deltas and tool-call deltas are translated,
// tool-call deltas keyed by item index, mirroring openai_compat.go's
// toolState.Add(choice.Delta.ToolCalls) pattern; reasoning items are not
// translated.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) Name() string       { return "openai" }
func (p *OpenAIProvider) Credential() string { return "api_key" }
func (p *OpenAIProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{ToolCalls: true}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    chooseModel(req.Model, p.model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	sdkStream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return &openAIStream{sdk: sdkStream, acc: newToolCallAccumulator()}, nil
}

type openAIStream struct {
	sdk     *ssestream.Stream[openai.ChatCompletionChunk]
	acc     *toolCallAccumulator
	pending []llm.Event
}

func (s *openAIStream) Recv() (llm.Event, error) {
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
		s.pending = translateOpenAIChunk(s.sdk.Current(), s.acc)
	}
}

func (s *openAIStream) Close() error { return nil }

// toolCallAccumulator tracks the in-progress name/args per tool-call index,
// since OpenAI's delta shape carries an index rather than the full call-id
// on every fragment.
type toolCallAccumulator struct {
	idByIndex map[int64]string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{idByIndex: make(map[int64]string)}
}

func translateOpenAIChunk(chunk openai.ChatCompletionChunk, acc *toolCallAccumulator) []llm.Event {
	if len(chunk.Choices) == 0 {
		if chunk.Usage.TotalTokens > 0 {
			return []llm.Event{{Type: llm.EventUsage, Usage: &llm.Usage{
				InputTokens:       int(chunk.Usage.PromptTokens),
				OutputTokens:      int(chunk.Usage.CompletionTokens),
				CachedInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			}}}
		}
		return nil
	}
	choice := chunk.Choices[0]
	var events []llm.Event

	if choice.Delta.Content != "" {
		events = append(events, llm.Event{Type: llm.EventTextDelta, Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		idx := tc.Index
		callID, seen := acc.idByIndex[idx]
		if !seen && tc.ID != "" {
			callID = tc.ID
			acc.idByIndex[idx] = callID
			events = append(events, llm.Event{Type: llm.EventToolCallStart, CallID: callID, ToolName: tc.Function.Name})
		}
		if tc.Function.Arguments != "" && callID != "" {
			events = append(events, llm.Event{Type: llm.EventToolCallDelta, CallID: callID, ArgsFragment: tc.Function.Arguments})
		}
	}
	switch choice.FinishReason {
	case "stop", "tool_calls":
		events = append(events, llm.Event{Type: llm.EventDone})
	case "length", "content_filter":
		events = append(events, llm.Event{Type: llm.EventError, Err: finishReasonError(choice.FinishReason)})
	}
	return events
}

func finishReasonError(reason string) error {
	return &finishError{reason: reason}
}

type finishError struct{ reason string }

func (e *finishError) Error() string { return "openai: stream stopped: " + e.reason }

func toOpenAIMessages(msgs []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case llm.KindSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case llm.KindUser:
			out = append(out, openai.UserMessage(m.Text))
		case llm.KindAssistant:
			if m.Text != "" {
				out = append(out, openai.AssistantMessage(m.Text))
			}
		case llm.KindToolResult:
			out = append(out, openai.ToolMessage(m.Content, m.CallID))
		}
	}
	return out
}

func toOpenAITools(specs []llm.ToolSpec) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, t := range specs {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Schema),
		}))
	}
	return out
}
