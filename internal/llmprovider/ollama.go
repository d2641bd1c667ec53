package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

// OllamaProvider talks to a local Ollama server's native /api/chat
// endpoint. Grounded on internal/service/llm/ollama/ollama.go.
type OllamaProvider struct {
	Model   string
	BaseURL string
}

func NewOllama(model, baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434/api/chat"
	}
	return &OllamaProvider{Model: model, BaseURL: baseURL}
}

type ollamaToolCall struct {
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (p *OllamaProvider) Chat(ctx context.Context, model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	if model == "" {
		model = p.Model
	}

	msgs := make([]map[string]any, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]any{"role": m.Role, "content": m.Content}
	}

	reqBody := map[string]any{"model": model, "messages": msgs, "stream": false}
	if len(tools) > 0 {
		oaTools := make([]map[string]any, len(tools))
		for i, t := range tools {
			oaTools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.InputSchema,
				},
			}
		}
		reqBody["tools"] = oaTools
	}
	if temperature != nil {
		reqBody["options"] = map[string]any{"temperature": *temperature}
	}

	data, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewReader(data))
	if err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}
	defer resp.Body.Close()

	var result struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []ollamaToolCall `json:"tool_calls"`
		} `json:"message"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}
	if result.Error != "" {
		return wfvalue.ChatMessage{}, nil, false, fmt.Errorf("ollama: %s", result.Error)
	}

	var calls []wfvalue.ToolCall
	for i, tc := range result.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, wfvalue.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: tc.Function.Name, Arguments: args})
	}

	reply := wfvalue.ChatMessage{Role: "assistant", Content: result.Message.Content}
	return reply, calls, len(calls) == 0, nil
}
