package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiProvider talks to the native Google Generative Language API
// (API-key authenticated, not Vertex). Grounded on
// internal/service/llm/gemini/gemini.go, trimmed to the non-streaming
// generateContent call the Agent interface needs.
type GeminiProvider struct {
	Model  string
	client *klient.Client
}

func NewGemini(apiKey, model, baseURL, proxy string, insecureSkipVerify bool) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider requires an api_key")
	}
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{
			"Content-Type":   []string{"application/json"},
			"x-goog-api-key": []string{apiKey},
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
	return &GeminiProvider{Model: model, client: client}, nil
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	Tools             []geminiTool           `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig      `json:"toolConfig,omitempty"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig geminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type geminiFunctionCallingConfig struct {
	Mode string `json:"mode"`
}

type geminiGenerationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Error      *geminiError      `json:"error,omitempty"`
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiError struct {
	Message string `json:"message"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

func (p *GeminiProvider) Chat(ctx context.Context, model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	if model == "" {
		model = p.Model
	}

	var system *geminiContent
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if s, ok := m.Content.(string); ok {
				system = &geminiContent{Parts: []geminiPart{{Text: s}}}
			}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		text, _ := m.Content.(string)
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}

	req := geminiRequest{Contents: contents, SystemInstruction: system}
	if len(tools) > 0 {
		decls := make([]geminiFunctionDecl, len(tools))
		for i, t := range tools {
			decls[i] = geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}
		}
		req.Tools = []geminiTool{{FunctionDeclarations: decls}}
		if choice == toolChoiceRequired {
			req.ToolConfig = &geminiToolConfig{FunctionCallingConfig: geminiFunctionCallingConfig{Mode: "ANY"}}
		}
	}
	if temperature != nil {
		req.GenerationConfig = &geminiGenerationConfig{Temperature: temperature}
	}

	body, _ := json.Marshal(req)
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}

	var result geminiResponse
	if err := p.client.Do(httpReq, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}

	if result.Error != nil {
		return wfvalue.ChatMessage{}, nil, false, fmt.Errorf("gemini: %s", result.Error.Message)
	}
	if len(result.Candidates) == 0 {
		return wfvalue.ChatMessage{}, nil, false, fmt.Errorf("gemini: no candidates")
	}

	cand := result.Candidates[0]
	var text string
	var calls []wfvalue.ToolCall
	for i, part := range cand.Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			calls = append(calls, wfvalue.ToolCall{
				ID:        fmt.Sprintf("%s_%d", part.FunctionCall.Name, i),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	reply := wfvalue.ChatMessage{Role: "assistant", Content: text}
	return reply, calls, len(calls) == 0, nil
}
