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

const openaiDefaultBaseURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider talks to OpenAI and any OpenAI-compatible API (Groq,
// DeepSeek, Mistral, Together, OpenRouter, Ollama's OpenAI endpoint,
// etc). Grounded on internal/service/llm/openai/openai.go.
type OpenAIProvider struct {
	Model   string
	BaseURL string
	client  *klient.Client

	// tokenSource overrides the static bearer token per request, used
	// by the Vertex AI adapter (OAuth2-backed ADC tokens).
	tokenSource func(ctx context.Context) (string, error)
}

func NewOpenAI(apiKey, model, baseURL, proxy string, insecureSkipVerify bool, extraHeaders map[string]string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	headers := http.Header{"Content-Type": []string{"application/json"}}
	if apiKey != "" {
		headers["Authorization"] = []string{"Bearer " + apiKey}
	}
	for k, v := range extraHeaders {
		headers[k] = []string{v}
	}
	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
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
	return &OpenAIProvider{Model: model, BaseURL: baseURL, client: client}, nil
}

type openaiResponse struct {
	Error   *openaiError   `json:"error,omitempty"`
	Choices []openaiChoice `json:"choices"`
}

type openaiError struct {
	Message string `json:"message"`
}

type openaiChoice struct {
	Message      openaiChoiceMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type openaiChoiceMessage struct {
	Content   string           `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls"`
}

type openaiToolCall struct {
	ID       string              `json:"id"`
	Function openaiFunctionCall  `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (p *OpenAIProvider) buildRequestBody(model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) map[string]any {
	msgs := make([]map[string]any, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	reqBody := map[string]any{"model": model, "messages": msgs}
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
		if choice == toolChoiceRequired {
			reqBody["tool_choice"] = "required"
		}
	}
	if temperature != nil {
		reqBody["temperature"] = *temperature
	}
	return reqBody
}

func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	if model == "" {
		model = p.Model
	}
	reqBody := p.buildRequestBody(model, messages, tools, choice, temperature)
	data, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "", bytes.NewReader(data))
	if err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}
	if p.tokenSource != nil {
		token, terr := p.tokenSource(ctx)
		if terr != nil {
			return wfvalue.ChatMessage{}, nil, false, fmt.Errorf("openai-compatible: token source: %w", terr)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var result openaiResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &result)
	}); err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}

	if result.Error != nil {
		return wfvalue.ChatMessage{}, nil, false, fmt.Errorf("openai-compatible: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return wfvalue.ChatMessage{}, nil, false, fmt.Errorf("openai-compatible: empty choices")
	}

	choiceOut := result.Choices[0]
	var calls []wfvalue.ToolCall
	for _, tc := range choiceOut.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, wfvalue.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	reply := wfvalue.ChatMessage{Role: "assistant", Content: choiceOut.Message.Content}
	finished := choiceOut.FinishReason != "tool_calls" && len(calls) == 0
	return reply, calls, finished, nil
}
