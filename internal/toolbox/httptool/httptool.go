// Package httptool implements a concrete wfexternal.Toolbox backend: a
// tool is a templated HTTP request, resolved and invoked the way the
// teacher's nodes/http-request.go builds one-off requests. Bound tool
// names are matched against a ToolSelector (union of names, or "all").
package httptool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rytsh/mugo/render"
	"github.com/worldline-go/klient"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

// Tool is one templated HTTP request definition, keyed by name and
// surfaced to the model as a callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any

	URLTemplate    string
	Method         string
	HeaderTemplate map[string]string
	BodyTemplate   string
	Timeout        time.Duration
	Proxy          string
	InsecureTLS    bool
	Retry          bool
}

// Toolbox resolves ToolSelectors against a fixed registry of Tools
// configured at startup (operator-defined, outside the engine's scope
// per spec.md §1 — the registry itself is the "at least one real
// backend" SPEC_FULL.md calls for).
type Toolbox struct {
	tools map[string]Tool
}

// New builds a Toolbox from a slice of Tool definitions.
func New(tools []Tool) *Toolbox {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return &Toolbox{tools: m}
}

var _ wfexternal.Toolbox = (*Toolbox)(nil)

func (tb *Toolbox) GetTools(_ context.Context, selector wfvalue.ToolSelector) (wfexternal.ToolHandle, error) {
	if selector.All {
		all := make([]Tool, 0, len(tb.tools))
		for _, t := range tb.tools {
			all = append(all, t)
		}
		return &handle{tools: all}, nil
	}
	resolved := make([]Tool, 0, len(selector.Names))
	for _, name := range selector.Names {
		t, ok := tb.tools[name]
		if !ok {
			return nil, fmt.Errorf("httptool: unknown tool %q", name)
		}
		resolved = append(resolved, t)
	}
	return &handle{tools: resolved}, nil
}

type handle struct {
	tools []Tool
}

var _ wfexternal.ToolHandle = (*handle)(nil)

func (h *handle) GetToolDefinitions() []wfexternal.ToolDef {
	defs := make([]wfexternal.ToolDef, 0, len(h.tools))
	for _, t := range h.tools {
		defs = append(defs, wfexternal.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return defs
}

func (h *handle) Timeout(name string) (time.Duration, bool) {
	for _, t := range h.tools {
		if t.Name == name {
			return t.Timeout, t.Timeout > 0
		}
	}
	return 0, false
}

func (h *handle) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	var tool *Tool
	for i := range h.tools {
		if h.tools[i].Name == name {
			tool = &h.tools[i]
			break
		}
	}
	if tool == nil {
		return "", fmt.Errorf("httptool: unknown tool %q", name)
	}
	return tool.invoke(ctx, args)
}

func (t *Tool) invoke(ctx context.Context, args map[string]any) (string, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmplData := map[string]any{"args": args}

	urlStr, err := renderTemplate(t.URLTemplate, tmplData)
	if err != nil {
		return "", fmt.Errorf("httptool %s: url: %w", t.Name, err)
	}

	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = "GET"
	}

	var body io.Reader
	switch {
	case t.BodyTemplate != "":
		rendered, err := renderTemplate(t.BodyTemplate, tmplData)
		if err != nil {
			return "", fmt.Errorf("httptool %s: body: %w", t.Name, err)
		}
		body = strings.NewReader(rendered)
	case method == "POST" || method == "PUT" || method == "PATCH":
		b, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("httptool %s: marshal args: %w", t.Name, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return "", fmt.Errorf("httptool %s: build request: %w", t.Name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, tmpl := range t.HeaderTemplate {
		val, err := renderTemplate(tmpl, tmplData)
		if err != nil {
			return "", fmt.Errorf("httptool %s: header %s: %w", t.Name, k, err)
		}
		req.Header.Set(k, val)
	}

	client, err := t.client()
	if err != nil {
		return "", fmt.Errorf("httptool %s: build client: %w", t.Name, err)
	}

	resp, err := client.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("httptool %s: request: %w", t.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("httptool %s: read response: %w", t.Name, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("httptool %s: status %d: %s", t.Name, resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}

func (t *Tool) client() (*klient.Client, error) {
	opts := []klient.OptionClientFn{
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	}
	if t.Proxy != "" {
		opts = append(opts, klient.WithProxy(t.Proxy))
	}
	if t.InsecureTLS {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	opts = append(opts, klient.WithDisableRetry(!t.Retry))
	return klient.New(opts...)
}

func renderTemplate(tmplText string, data map[string]any) (string, error) {
	result, err := render.ExecuteWithData(tmplText, data)
	if err != nil {
		return "", err
	}
	return string(result), nil
}
