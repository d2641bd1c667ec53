package httptool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rakunlabs/loom/internal/wfvalue"
)

func TestToolboxCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tb := New([]Tool{{
		Name:        "ping",
		Description: "pings the test server",
		URLTemplate: srv.URL + "/ping",
		Method:      "GET",
	}})

	handle, err := tb.GetTools(context.Background(), wfvalue.ToolSelector{Names: []string{"ping"}})
	if err != nil {
		t.Fatalf("get tools: %v", err)
	}
	if len(handle.GetToolDefinitions()) != 1 {
		t.Fatalf("expected 1 tool definition")
	}
	out, err := handle.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("got %q", out)
	}
}

func TestToolboxUnknownTool(t *testing.T) {
	tb := New(nil)
	if _, err := tb.GetTools(context.Background(), wfvalue.ToolSelector{Names: []string{"missing"}}); err == nil {
		t.Fatal("expected error")
	}
}
