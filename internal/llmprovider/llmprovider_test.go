package llmprovider

import (
	"context"
	"testing"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

type fakeProvider struct {
	gotModel string
	gotTools int
}

func (f *fakeProvider) Chat(_ context.Context, model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	f.gotModel = model
	f.gotTools = len(tools)
	return wfvalue.ChatMessage{Role: "assistant", Content: "ok"}, nil, true, nil
}

func TestSplitModel(t *testing.T) {
	p, m := splitModel("anthropic/claude-3")
	if p != "anthropic" || m != "claude-3" {
		t.Fatalf("got %q %q", p, m)
	}
	p, m = splitModel("gpt-4")
	if p != "" || m != "gpt-4" {
		t.Fatalf("got %q %q", p, m)
	}
}

func TestFactoryBuildAgent(t *testing.T) {
	fp := &fakeProvider{}
	factory := NewFactory(map[string]Provider{"anthropic": fp}, "anthropic", nil)

	agent, err := factory.BuildAgent(context.Background(), wfvalue.AgentSpec{Model: "anthropic/claude-3"})
	if err != nil {
		t.Fatalf("build agent: %v", err)
	}
	reply, _, finished, err := agent.Prompt(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if !finished || reply.Content != "ok" {
		t.Fatalf("got %#v", reply)
	}
	if fp.gotModel != "claude-3" {
		t.Fatalf("got model %q", fp.gotModel)
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	factory := NewFactory(map[string]Provider{}, "anthropic", nil)
	if _, err := factory.BuildAgent(context.Background(), wfvalue.AgentSpec{Model: "nope/x"}); err == nil {
		t.Fatal("expected error")
	}
}
