package llmprovider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/worldline-go/klient"
	"golang.org/x/oauth2/google"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

const vertexScope = "https://www.googleapis.com/auth/cloud-platform"

// VertexProvider talks to Vertex AI's OpenAI-compatible chat completions
// endpoint, authenticated via Google Application Default Credentials.
// Grounded on internal/service/llm/vertex/vertex.go; reuses
// OpenAIProvider's request/response shape since Vertex's openapi
// endpoint is wire-compatible with OpenAI's.
type VertexProvider struct {
	inner *OpenAIProvider
}

func NewVertex(model, endpointURL, proxy string, insecureSkipVerify bool) (*VertexProvider, error) {
	if endpointURL == "" {
		return nil, fmt.Errorf("vertex provider requires a base_url with the full openapi endpoint")
	}
	ts, err := google.DefaultTokenSource(context.Background(), vertexScope)
	if err != nil {
		return nil, fmt.Errorf("vertex: application default credentials: %w", err)
	}

	opts := []klient.OptionClientFn{
		klient.WithBaseURL(endpointURL),
		klient.WithLogger(slog.Default()),
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

	inner := &OpenAIProvider{
		Model:   model,
		BaseURL: endpointURL,
		client:  client,
		tokenSource: func(ctx context.Context) (string, error) {
			tok, err := ts.Token()
			if err != nil {
				return "", err
			}
			return tok.AccessToken, nil
		},
	}
	return &VertexProvider{inner: inner}, nil
}

func (p *VertexProvider) Chat(ctx context.Context, model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	return p.inner.Chat(ctx, model, messages, tools, choice, temperature)
}
