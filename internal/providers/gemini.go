package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/forgeai/engine/internal/llm"
	"github.com/forgeai/engine/internal/sse"
)

// GeminiProvider speaks Gemini's streamGenerateContent SSE dialect directly
// over HTTP, grounded on the teacher's gemini_cli.go, which hand-rolls the
// same `data:` framing this package's internal/sse.Reader now provides
// generically. Only API-key auth is implemented; the teacher's Code Assist
// OAuth cascade is out of scope for engine-core (SPEC_FULL.md's Non-goals
// carry no server-side OAuth token exchange requirement).
type GeminiProvider struct {
	apiKey      string
	model       string
	httpClient  *http.Client
	idleTimeout time.Duration
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DisableCompression: false,
				IdleConnTimeout:    60 * time.Second,
			},
		},
		idleTimeout: 60 * time.Second,
	}
}

func (p *GeminiProvider) Name() string       { return "gemini" }
func (p *GeminiProvider) Credential() string { return "api_key" }
func (p *GeminiProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{ToolCalls: true}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Tools            []geminiTool    `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResp `json:"functionResponse,omitempty"`
}

type geminiFuncCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
}

type geminiFuncDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (p *GeminiProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	model := chooseModel(req.Model, p.model)
	body := geminiRequest{Contents: toGeminiContents(req.Messages)}
	if sys := systemText(req.Messages); sys != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}
	if len(req.Tools) > 0 {
		body.Tools = []geminiTool{{FunctionDeclarations: toGeminiFuncDecls(req.Tools)}}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf(
		"https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		model, p.apiKey,
	)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("gemini: api error (status %d)", resp.StatusCode)
	}

	return sse.NewStream(ctx, resp.Body, p.idleTimeout, &geminiAdapter{}), nil
}

// geminiAdapter implements sse.Adapter, translating one
// streamGenerateContent chunk into the unified event vocabulary. Gemini has
// no distinct "start" event for a function call — the whole call (name +
// complete args) arrives in one chunk — so this adapter collapses
// ToolCallStart+ToolCallDelta into the same chunk, matching spec.md §4.6's
// "done-without-delta" fallback rule.
type geminiAdapter struct{}

type geminiResponseChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
	} `json:"usageMetadata"`
}

func (a *geminiAdapter) Decode(data string) ([]llm.Event, error) {
	var chunk geminiResponseChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, fmt.Errorf("gemini: decode chunk: %w", err)
	}

	var events []llm.Event
	for _, cand := range chunk.Candidates {
		for i, part := range cand.Content.Parts {
			switch {
			case part.Text != "":
				events = append(events, llm.Event{Type: llm.EventTextDelta, Text: part.Text})
			case part.FunctionCall != nil:
				callID := fmt.Sprintf("call_%d", i)
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				events = append(events,
					llm.Event{Type: llm.EventToolCallStart, CallID: callID, ToolName: part.FunctionCall.Name},
					llm.Event{Type: llm.EventToolCallDelta, CallID: callID, ArgsFragment: string(argsJSON)},
				)
			}
		}
		switch cand.FinishReason {
		case "STOP", "":
		case "SAFETY", "MAX_TOKENS", "RECITATION", "OTHER":
			events = append(events, llm.Event{Type: llm.EventError, Err: fmt.Errorf("gemini: finish reason %s", cand.FinishReason)})
		}
	}
	if chunk.UsageMetadata.CandidatesTokenCount > 0 {
		events = append(events, llm.Event{Type: llm.EventUsage, Usage: &llm.Usage{
			InputTokens:       chunk.UsageMetadata.PromptTokenCount,
			OutputTokens:      chunk.UsageMetadata.CandidatesTokenCount,
			CachedInputTokens: chunk.UsageMetadata.CachedContentTokenCount,
		}})
	}
	return events, nil
}

func toGeminiContents(msgs []llm.Message) []geminiContent {
	out := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case llm.KindUser:
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Text}}})
		case llm.KindAssistant:
			if m.Text != "" {
				out = append(out, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Text}}})
			}
		case llm.KindToolUse:
			var args map[string]any
			_ = json.Unmarshal(m.Arguments, &args)
			out = append(out, geminiContent{Role: "model", Parts: []geminiPart{{FunctionCall: &geminiFuncCall{Name: m.ToolName, Args: args}}}})
		case llm.KindToolResult:
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{FunctionResponse: &geminiFuncResp{
				Name:     m.ToolName,
				Response: map[string]any{"content": m.Content, "is_error": m.IsError},
			}}}})
		}
	}
	return out
}

func toGeminiFuncDecls(specs []llm.ToolSpec) []geminiFuncDecl {
	out := make([]geminiFuncDecl, 0, len(specs))
	for _, t := range specs {
		out = append(out, geminiFuncDecl{Name: t.Name, Description: t.Description, Parameters: t.Schema})
	}
	return out
}
