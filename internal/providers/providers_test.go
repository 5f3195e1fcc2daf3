package providers

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/forgeai/engine/internal/llm"
	"github.com/stretchr/testify/require"
)

func openAIChunkWithText(text string) openai.ChatCompletionChunk {
	var chunk openai.ChatCompletionChunk
	choice := openai.ChatCompletionChunkChoice{}
	choice.Delta.Content = text
	chunk.Choices = []openai.ChatCompletionChunkChoice{choice}
	return chunk
}

func TestTranslateAnthropicEvent_ToolCallStartBindsItemID(t *testing.T) {
	itemIDs := make(map[int64]string)
	evt := anthropic.MessageStreamEventUnion{
		Type:  "content_block_start",
		Index: 2,
	}
	evt.ContentBlock.Type = "tool_use"
	evt.ContentBlock.ID = "call_abc"
	evt.ContentBlock.Name = "read_file"

	events := translateAnthropicEvent(evt, itemIDs)
	require.Len(t, events, 1)
	require.Equal(t, llm.EventToolCallStart, events[0].Type)
	require.Equal(t, "call_abc", events[0].CallID)
	require.Equal(t, "call_abc", itemIDs[2])
}

func TestTranslateAnthropicEvent_InputJSONDeltaUsesBoundCallID(t *testing.T) {
	itemIDs := map[int64]string{2: "call_abc"}
	evt := anthropic.MessageStreamEventUnion{Type: "content_block_delta", Index: 2}
	evt.Delta.Type = "input_json_delta"
	evt.Delta.PartialJSON = `{"path":"x"}`

	events := translateAnthropicEvent(evt, itemIDs)
	require.Len(t, events, 1)
	require.Equal(t, llm.EventToolCallDelta, events[0].Type)
	require.Equal(t, "call_abc", events[0].CallID)
	require.Equal(t, `{"path":"x"}`, events[0].ArgsFragment)
}

func TestTranslateAnthropicEvent_MessageStop(t *testing.T) {
	events := translateAnthropicEvent(anthropic.MessageStreamEventUnion{Type: "message_stop"}, map[int64]string{})
	require.Len(t, events, 1)
	require.Equal(t, llm.EventDone, events[0].Type)
}

func TestTranslateOpenAIChunk_TextDelta(t *testing.T) {
	acc := newToolCallAccumulator()
	chunk := openAIChunkWithText("hello")
	events := translateOpenAIChunk(chunk, acc)
	require.Len(t, events, 1)
	require.Equal(t, llm.EventTextDelta, events[0].Type)
	require.Equal(t, "hello", events[0].Text)
}

func TestGeminiAdapter_DecodeTextPart(t *testing.T) {
	a := &geminiAdapter{}
	events, err := a.Decode(`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":""}]}`)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, llm.EventTextDelta, events[0].Type)
	require.Equal(t, "hi", events[0].Text)
}

func TestGeminiAdapter_DecodeFunctionCall(t *testing.T) {
	a := &geminiAdapter{}
	events, err := a.Decode(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"read_file","args":{"path":"a.go"}}}]}}]}`)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, llm.EventToolCallStart, events[0].Type)
	require.Equal(t, "read_file", events[0].ToolName)
	require.Equal(t, llm.EventToolCallDelta, events[1].Type)
	require.Contains(t, events[1].ArgsFragment, "a.go")
}

func TestGeminiAdapter_UsageMetadata(t *testing.T) {
	a := &geminiAdapter{}
	events, err := a.Decode(`{"candidates":[{"content":{"parts":[]}}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}}`)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, llm.EventUsage, events[0].Type)
	require.Equal(t, 10, events[0].Usage.InputTokens)
	require.Equal(t, 5, events[0].Usage.OutputTokens)
}
