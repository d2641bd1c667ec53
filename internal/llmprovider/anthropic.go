package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

const anthropicDefaultBaseURL = "https://api.anthropic.com"

// AnthropicProvider talks to the native Anthropic Messages API. Grounded
// on internal/service/llm/antropic/antropic.go.
type AnthropicProvider struct {
	Model  string
	client *klient.Client
}

func NewAnthropic(apiKey, model, baseURL, proxy string, insecureSkipVerify bool) (*AnthropicProvider, error) {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{
			"X-Api-Key":         []string{apiKey},
			"Anthropic-Version": []string{"2023-06-01"},
			"Content-Type":      []string{"application/json"},
		}),
	}
	if proxy != "" {
		opts = append(opts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	client, err := klient.New(opts...)
	if err != nil {
		return nil, err
	}
	return &AnthropicProvider{Model: model, client: client}, nil
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	Type       string                  `json:"type"`
	Error      *anthropicError         `json:"error,omitempty"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Chat(ctx context.Context, model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	if model == "" {
		model = p.Model
	}

	var system string
	filtered := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if s, ok := m.Content.(string); ok {
				if system != "" {
					system += "\n"
				}
				system += s
			}
			continue
		}
		filtered = append(filtered, map[string]any{"role": m.Role, "content": m.Content})
	}

	anthTools := make([]map[string]any, len(tools))
	for i, t := range tools {
		anthTools[i] = map[string]any{"name": t.Name, "description": t.Description, "input_schema": t.InputSchema}
	}

	reqBody := map[string]any{
		"model":      model,
		"max_tokens": 4096,
		"messages":   filtered,
	}
	if system != "" {
		reqBody["system"] = system
	}
	if len(tools) > 0 {
		reqBody["tools"] = anthTools
		if choice == toolChoiceRequired {
			reqBody["tool_choice"] = map[string]any{"type": "any"}
		}
	}
	if temperature != nil {
		reqBody["temperature"] = *temperature
	}

	body, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/v1/messages", bytes.NewReader(body))
	if err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}

	var result anthropicResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}

	if result.Type == "error" && result.Error != nil {
		return wfvalue.ChatMessage{}, nil, false, fmt.Errorf("anthropic: %s", result.Error.Message)
	}

	var text string
	var calls []wfvalue.ToolCall
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			calls = append(calls, wfvalue.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	reply := wfvalue.ChatMessage{Role: "assistant", Content: text}
	return reply, calls, result.StopReason != "tool_use", nil
}
