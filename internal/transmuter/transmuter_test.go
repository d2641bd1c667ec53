package transmuter

import (
	"context"
	"testing"
)

func TestRenderTemplate(t *testing.T) {
	tm := New(nil, nil)
	out, err := tm.RenderTemplate(context.Background(), "hello {{ .name }}", map[string]any{"name": "loom"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "hello loom" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderTemplateVar(t *testing.T) {
	tm := New(func(key string) (string, error) {
		if key == "token" {
			return "secret", nil
		}
		return "", nil
	}, nil)
	out, err := tm.RenderTemplate(context.Background(), `{{ var "token" }}`, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "secret" {
		t.Fatalf("got %q", out)
	}
}

func TestInitFilter(t *testing.T) {
	tm := New(nil, nil)
	f, err := tm.InitFilter(context.Background(), "input.x + 1")
	if err != nil {
		t.Fatalf("init filter: %v", err)
	}
	out, err := f.Run(context.Background(), map[string]any{"x": int64(41)})
	if err != nil {
		t.Fatalf("run filter: %v", err)
	}
	n, ok := out.(int64)
	if !ok || n != 42 {
		t.Fatalf("got %#v", out)
	}
}

func TestFilterError(t *testing.T) {
	tm := New(nil, nil)
	f, err := tm.InitFilter(context.Background(), "throw new Error('boom')")
	if err != nil {
		t.Fatalf("init filter: %v", err)
	}
	if _, err := f.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}
