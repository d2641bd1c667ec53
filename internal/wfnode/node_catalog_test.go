package wfnode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

func build(t *testing.T, kind string, data map[string]any) Noder {
	t.Helper()
	n, err := Build(wfgraph.NodeInfo{Kind: kind, Data: data})
	if err != nil {
		t.Fatalf("build %s: %v", kind, err)
	}
	return n
}

func TestBuildUnknownKind(t *testing.T) {
	if _, err := Build(wfgraph.NodeInfo{Kind: "nonsense"}); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}

func TestRegisteredNodeTypesIncludesEveryCatalogKind(t *testing.T) {
	want := []string{
		"start", "finish", "fallback", "select", "demote", "panic",
		"text", "number", "template_node", "create_message",
		"agent_node", "chat_context", "chat", "structured_chat",
		"tools", "invoke_tool",
		"graft_history", "mask_history", "extend_history",
		"parse_json", "validate_json", "transform_json", "gather_json",
		"subgraph", "preview", "output_node", "comment",
	}
	got := map[string]bool{}
	for _, k := range RegisteredNodeTypes() {
		got[k] = true
	}
	for _, k := range want {
		if !got[k] {
			t.Errorf("expected node kind %q to be registered", k)
		}
	}
}

// ─── Text / Number / CreateMessage ───

func TestTextNodeEmitsConfiguredConstant(t *testing.T) {
	n := build(t, "text", map[string]any{"text": "hello"})
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	s, ok := out[0].AsText()
	if !ok || s != "hello" {
		t.Fatalf("expected text %q, got %v", "hello", out[0])
	}
}

func TestNumberNodeEmitsConfiguredConstant(t *testing.T) {
	n := build(t, "number", map[string]any{"number": float64(3.5)})
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	f, ok := out[0].AsNumber()
	if !ok || f != 3.5 {
		t.Fatalf("expected 3.5, got %v", out[0])
	}
}

func TestCreateMessageNodeBuildsTypedMessage(t *testing.T) {
	n := build(t, "create_message", nil)
	inputs := []wfvalue.Value{wfvalue.Text("user"), wfvalue.Text("hi there")}
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, inputs)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	msg, ok := out[0].AsMessage()
	if !ok || msg.Role != "user" || msg.Content != "hi there" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestCreateMessageNodeValidateRequiresRole(t *testing.T) {
	n := build(t, "create_message", nil)
	err := n.Validate(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{wfvalue.Placeholder(wfvalue.KindText)})
	if err == nil {
		t.Fatalf("expected Input error for missing role")
	}
}

// mockTransmuter and mockFilter ground internal/wfnode's Transmuter-
// dependent node tests (TemplateNode, TransformJson) without reaching
// into internal/transmuter.
type mockTransmuter struct {
	rendered string
	renderErr error
	filterOut any
	filterErr error
}

func (m *mockTransmuter) InitFilter(context.Context, string) (wfexternal.Filter, error) {
	if m.filterErr != nil {
		return nil, m.filterErr
	}
	return mockFilter{out: m.filterOut}, nil
}

func (m *mockTransmuter) RenderTemplate(context.Context, string, map[string]any) (string, error) {
	return m.rendered, m.renderErr
}

type mockFilter struct {
	out any
}

func (f mockFilter) Run(context.Context, any) (any, error) { return f.out, nil }

func TestTemplateNodeRendersThroughTransmuter(t *testing.T) {
	n := build(t, "template_node", nil)
	rc := &wfexternal.RunContext{Transmuter: &mockTransmuter{rendered: "rendered text"}}
	out, err := n.Execute(context.Background(), rc, []wfvalue.Value{wfvalue.Text("{{ name }}"), wfvalue.JSON(map[string]any{"name": "a"})})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	s, _ := out[0].AsText()
	if s != "rendered text" {
		t.Fatalf("expected rendered text, got %q", s)
	}
	if !out[1].IsPlaceholder() {
		t.Fatalf("expected failure pin to be Placeholder on success")
	}
}

func TestTemplateNodeFailsOnFailurePinWithoutTransmuter(t *testing.T) {
	n := build(t, "template_node", nil)
	rc := &wfexternal.RunContext{}
	_, err := n.Execute(context.Background(), rc, []wfvalue.Value{wfvalue.Text("x")})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrProvider {
		t.Fatalf("expected Provider error, got %v", err)
	}
	if pin, ok := n.FailurePin(); !ok || pin != 1 {
		t.Fatalf("expected failure pin 1, got %d %v", pin, ok)
	}
}

// ─── Scaffold: Start/Finish/Fallback/Select/Demote/Panic ───

func TestStartNodePopulatesFromRootContext(t *testing.T) {
	n := build(t, "start", nil)
	temp := 0.7
	rc := &wfexternal.RunContext{Root: wfexternal.RootContext{
		History: chathistory.New(), UserPrompt: "hello", Model: "gpt", Temperature: &temp,
	}}
	out, err := n.Execute(context.Background(), rc, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if txt, _ := out[1].AsText(); txt != "hello" {
		t.Fatalf("expected user prompt propagated, got %q", txt)
	}
	if model, _ := out[2].AsModel(); model != "gpt" {
		t.Fatalf("expected model propagated, got %q", model)
	}
	if f, ok := out[3].AsNumber(); !ok || f != 0.7 {
		t.Fatalf("expected temperature propagated, got %v", out[3])
	}
}

func TestStartNodeTemperaturePlaceholderWhenUnset(t *testing.T) {
	n := build(t, "start", nil)
	rc := &wfexternal.RunContext{Root: wfexternal.RootContext{History: chathistory.New()}}
	out, err := n.Execute(context.Background(), rc, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out[3].IsPlaceholder() {
		t.Fatalf("expected temperature placeholder, got %v", out[3])
	}
}

func TestFinishWritesSessionWhenSubset(t *testing.T) {
	n := build(t, "finish", nil)
	session := chathistory.New()
	final, _ := session.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "hi"}}, "")

	rc := &wfexternal.RunContext{History: &session}
	_, err := n.Execute(context.Background(), rc, []wfvalue.Value{wfvalue.Chat(final)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rc.History.Head() != final.Head() {
		t.Fatalf("expected session history overwritten with final chat")
	}
}

func TestFinishRejectsNonSubsetSession(t *testing.T) {
	n := build(t, "finish", nil)
	session := chathistory.New()
	session, _ = session.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "session-only"}}, "")

	unrelated := chathistory.New()
	unrelated, _ = unrelated.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "different branch"}}, "")

	rc := &wfexternal.RunContext{History: &session}
	_, err := n.Execute(context.Background(), rc, []wfvalue.Value{wfvalue.Chat(unrelated)})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrConversion {
		t.Fatalf("expected Conversion error for non-subset session, got %v", err)
	}
}

func TestFallbackNeverFiresWithoutAConnectedFailureInput(t *testing.T) {
	// A Fallback whose failure input holds no Failure (a Placeholder, as
	// when nothing upstream failed or nothing is wired to it) emits only
	// Placeholders even with a live data input; once a Failure arrives it
	// passes the data input through.
	n := build(t, "fallback", map[string]any{"data_arity": 1})
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Placeholder(wfvalue.KindFailure),
		wfvalue.Text("safe"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out[0].IsPlaceholder() {
		t.Fatalf("expected no substitute emitted without a Failure input, got %v", out[0])
	}

	out, err = n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Failure(errors.New("upstream failed")),
		wfvalue.Text("safe"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if s, ok := out[0].AsText(); !ok || s != "safe" {
		t.Fatalf("expected passthrough of data input once a Failure arrives, got %v", out[0])
	}
}

func TestSelectEmitsFirstNonPlaceholderInput(t *testing.T) {
	n := build(t, "select", nil)
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Placeholder(wfvalue.KindJSON),
		wfvalue.Text("fallback-value"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if s, ok := out[0].AsText(); !ok || s != "fallback-value" {
		t.Fatalf("expected the non-placeholder input, got %v", out[0])
	}
}

func TestDemotePriorityDefaultsBelowZero(t *testing.T) {
	n := build(t, "demote", nil)
	if n.Priority() >= 0 {
		t.Fatalf("expected default demote priority below 0, got %d", n.Priority())
	}
}

func TestPanicFiresOnlyOnLiveInput(t *testing.T) {
	n := build(t, "panic", nil)
	if _, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{wfvalue.Placeholder(wfvalue.KindJSON)}); err != nil {
		t.Fatalf("expected no error for placeholder input, got %v", err)
	}
	if _, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{wfvalue.Text("boom")}); err == nil {
		t.Fatalf("expected panic node to fail on a live input")
	}
}

func TestStartFinishAreProtected(t *testing.T) {
	if !build(t, "start", nil).IsProtected() {
		t.Fatalf("expected start to be protected")
	}
	if !build(t, "finish", nil).IsProtected() {
		t.Fatalf("expected finish to be protected")
	}
	if build(t, "text", nil).IsProtected() {
		t.Fatalf("expected text not to be protected")
	}
}

// ─── JSON nodes ───

func TestParseJsonNode(t *testing.T) {
	n := build(t, "parse_json", nil)
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{wfvalue.Text(`{"x":1}`)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	v, ok := out[0].AsJSON()
	if !ok {
		t.Fatalf("expected JSON output")
	}
	m := v.(map[string]any)
	if m["x"] != float64(1) {
		t.Fatalf("unexpected parsed value: %v", m)
	}
}

func TestParseJsonNodeWithBraceScanExtractsEmbeddedObject(t *testing.T) {
	n := build(t, "parse_json", map[string]any{"brace_scan": true})
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Text(`here is the answer: {"x": {"nested": true}} -- thanks`),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	v, _ := out[0].AsJSON()
	m := v.(map[string]any)
	if _, ok := m["x"]; !ok {
		t.Fatalf("expected brace-scanned object, got %v", m)
	}
}

func TestParseJsonNodeConversionErrorOnFailurePin(t *testing.T) {
	n := build(t, "parse_json", nil)
	_, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{wfvalue.Text("not json")})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrConversion {
		t.Fatalf("expected Conversion error, got %v", err)
	}
	if !werr.Recoverable() {
		t.Fatalf("expected Conversion to be recoverable (fallback-catchable)")
	}
}

func TestValidateJsonNode(t *testing.T) {
	n := build(t, "validate_json", nil)
	schema := map[string]any{"type": "object", "required": []any{"x"}}
	_, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.JSON(map[string]any{"x": 1}), wfvalue.JSON(schema),
	})
	if err != nil {
		t.Fatalf("expected valid payload to pass, got %v", err)
	}
	_, err = n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.JSON(map[string]any{}), wfvalue.JSON(schema),
	})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrValidation {
		t.Fatalf("expected Validation error for missing required field, got %v", err)
	}
}

func TestTransformJsonNodeRunsFilterViaTransmuter(t *testing.T) {
	n := build(t, "transform_json", nil)
	rc := &wfexternal.RunContext{Transmuter: &mockTransmuter{filterOut: map[string]any{"y": 2}}}
	out, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.JSON(map[string]any{"x": 1}), wfvalue.Text(".x"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	v, _ := out[0].AsJSON()
	if v.(map[string]any)["y"] != 2 {
		t.Fatalf("unexpected filter output: %v", v)
	}
}

func TestGatherJsonNodeSkipsPlaceholders(t *testing.T) {
	n := build(t, "gather_json", map[string]any{"data_arity": 3})
	if n.Inputs() != 3 {
		t.Fatalf("expected variable arity of 3, got %d", n.Inputs())
	}
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.JSON(1.0),
		wfvalue.Placeholder(wfvalue.KindJSON),
		wfvalue.JSON(3.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	arr, _ := out[0].AsJSON()
	if len(arr.([]any)) != 2 {
		t.Fatalf("expected placeholder skipped, got %v", arr)
	}
}

// ─── History nodes ───

func TestMaskHistoryNoOpWhenLimitCoversWholeTranscript(t *testing.T) {
	n := build(t, "mask_history", nil)
	h := chathistory.New()
	h, _ = h.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "a"}}, "")
	h, _ = h.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "assistant", Payload: "b"}}, "")

	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Chat(h), wfvalue.Integer(100),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	masked, _ := out[0].AsChat()
	got := masked.(chathistory.History)
	if got.Base() != h.Base() {
		t.Fatalf("expected limit=100 (> len) to be equivalent to no masking, base changed: %q", got.Base())
	}
}

func TestMaskHistorySetsBaseWhenLimitIsSmaller(t *testing.T) {
	n := build(t, "mask_history", nil)
	h := chathistory.New()
	h, _ = h.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "a"}}, "")
	h, _ = h.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "assistant", Payload: "b"}}, "")
	h, _ = h.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "c"}}, "")

	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Chat(h), wfvalue.Integer(1),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	masked, _ := out[0].AsChat()
	got := masked.(chathistory.History)
	entries, err := got.Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected masked iteration to yield 1 entry, got %d", len(entries))
	}
}

func TestExtendHistoryAppendsMessagesInPinOrder(t *testing.T) {
	n := build(t, "extend_history", map[string]any{"data_arity": 2})
	h := chathistory.New()
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Chat(h),
		wfvalue.Message(wfvalue.ChatMessage{Role: "user", Content: "one"}),
		wfvalue.Message(wfvalue.ChatMessage{Role: "assistant", Content: "two"}),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	chatVal, _ := out[0].AsChat()
	entries, err := chatVal.(chathistory.History).Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries appended, got %d", len(entries))
	}
}

func TestGraftHistorySplicesAsideAsCollapsedSegment(t *testing.T) {
	n := build(t, "graft_history", nil)
	main := chathistory.New()
	main, _ = main.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "root"}}, "")

	aside, err := main.SwitchBranch("aside", main.Head())
	if err != nil {
		t.Fatalf("switch branch: %v", err)
	}
	aside, _ = aside.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "assistant", Payload: "aside turn"}}, "aside")

	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Chat(main), wfvalue.Chat(aside),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	graftedVal, _ := out[0].AsChat()
	grafted := graftedVal.(chathistory.History)
	entries, err := grafted.Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Content.Kind == chathistory.ContentAside {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a grafted Aside entry in the main chat, got %+v", entries)
	}
}

// ─── Tools ───

type mockToolHandle struct {
	calls   []string
	result  string
	callErr error
	timeout time.Duration
	hasTO   bool
}

func (h *mockToolHandle) GetToolDefinitions() []wfexternal.ToolDef { return nil }
func (h *mockToolHandle) Call(ctx context.Context, name string, _ map[string]any) (string, error) {
	h.calls = append(h.calls, name)
	if h.callErr != nil {
		<-ctx.Done()
	}
	return h.result, h.callErr
}
func (h *mockToolHandle) Timeout(string) (time.Duration, bool) { return h.timeout, h.hasTO }

type mockToolbox struct {
	handle  *mockToolHandle
	getErr  error
}

func (b *mockToolbox) GetTools(context.Context, wfvalue.ToolSelector) (wfexternal.ToolHandle, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.handle, nil
}

func TestToolsNodeExposesConfiguredSelector(t *testing.T) {
	n := build(t, "tools", map[string]any{"names": []any{"search", "fetch"}})
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	sel, ok := out[0].AsTools()
	if !ok || len(sel.Names) != 2 {
		t.Fatalf("expected selector with 2 names, got %+v", sel)
	}
}

func TestInvokeToolNodeAppendsResultMessage(t *testing.T) {
	n := build(t, "invoke_tool", nil)
	h := &mockToolHandle{result: "42"}
	rc := &wfexternal.RunContext{Toolbox: &mockToolbox{handle: h}}

	out, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Chat(chathistory.New()),
		wfvalue.Tools(wfvalue.ToolSelector{Names: []string{"calc"}}),
		wfvalue.Text("calc"),
		wfvalue.JSON(map[string]any{"a": 1}),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if text, ok := out[2].AsText(); !ok || text != "42" {
		t.Fatalf("expected tool result text, got %v", out[2])
	}
	if len(h.calls) != 1 || h.calls[0] != "calc" {
		t.Fatalf("expected exactly one call to 'calc', got %v", h.calls)
	}
}

func TestInvokeToolNodeTimeoutSurfacesAsTimeoutFailure(t *testing.T) {
	n := build(t, "invoke_tool", nil)
	h := &mockToolHandle{hasTO: true, timeout: time.Nanosecond, callErr: context.DeadlineExceeded}
	rc := &wfexternal.RunContext{Toolbox: &mockToolbox{handle: h}}

	_, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Chat(chathistory.New()),
		wfvalue.Tools(wfvalue.ToolSelector{}),
		wfvalue.Text("slow"),
		wfvalue.Placeholder(wfvalue.KindJSON),
	})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrTimeout {
		t.Fatalf("expected Timeout error, got %v", err)
	}
}

func TestInvokeToolNodeRequiresToolName(t *testing.T) {
	n := build(t, "invoke_tool", nil)
	rc := &wfexternal.RunContext{Toolbox: &mockToolbox{handle: &mockToolHandle{}}}
	_, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Chat(chathistory.New()),
		wfvalue.Tools(wfvalue.ToolSelector{}),
		wfvalue.Text(""),
		wfvalue.Placeholder(wfvalue.KindJSON),
	})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrRequired {
		t.Fatalf("expected Required error for empty tool name, got %v", err)
	}
}

// ─── LLM nodes ───

type mockAgent struct {
	replies []wfvalue.ChatMessage
	calls   [][]wfvalue.ToolCall
	idx     int
	promptErr error
}

func (a *mockAgent) Prompt(context.Context, string, []wfvalue.ChatMessage) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	if a.promptErr != nil {
		return wfvalue.ChatMessage{}, nil, false, a.promptErr
	}
	i := a.idx
	a.idx++
	var calls []wfvalue.ToolCall
	if i < len(a.calls) {
		calls = a.calls[i]
	}
	return a.replies[i], calls, len(calls) == 0, nil
}

func (a *mockAgent) Completion(context.Context, []wfvalue.ChatMessage) (wfvalue.ChatMessage, []wfvalue.ToolCall, error) {
	i := a.idx
	a.idx++
	var calls []wfvalue.ToolCall
	if i < len(a.calls) {
		calls = a.calls[i]
	}
	return a.replies[i], calls, nil
}

type mockAgentFactory struct {
	agent   *mockAgent
	buildErr error
}

func (f *mockAgentFactory) BuildAgent(context.Context, wfvalue.AgentSpec) (wfexternal.Agent, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.agent, nil
}

func TestAgentNodeAssemblesSpecFromOverrides(t *testing.T) {
	n := build(t, "agent_node", nil)
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Placeholder(wfvalue.KindAgent),
		wfvalue.Model("gpt-5"),
		wfvalue.Number(0.2),
		wfvalue.Tools(wfvalue.ToolSelector{Names: []string{"a"}}),
		wfvalue.Text("be terse"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	spec, _ := out[0].AsAgent()
	if spec.Model != "gpt-5" || spec.Preamble != "be terse" || *spec.Temperature != 0.2 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestChatContextAppendsDocument(t *testing.T) {
	n := build(t, "chat_context", nil)
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Agent(wfvalue.AgentSpec{Model: "m"}),
		wfvalue.Text("doc-1"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	spec, _ := out[0].AsAgent()
	if len(spec.ContextDocs) != 1 || spec.ContextDocs[0] != "doc-1" {
		t.Fatalf("expected context doc appended, got %+v", spec)
	}
}

// TestChatNodeStraightChat grounds end-to-end scenario 1 from the spec:
// one Chat execution with a single assistant reply and no tool calls.
func TestChatNodeStraightChat(t *testing.T) {
	n := build(t, "chat", nil)
	agent := &mockAgent{replies: []wfvalue.ChatMessage{{Role: "assistant", Content: "hi back"}}}
	rc := &wfexternal.RunContext{AgentFactory: &mockAgentFactory{agent: agent}}

	out, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Agent(wfvalue.AgentSpec{Model: "m"}),
		wfvalue.Chat(chathistory.New()),
		wfvalue.Text("Hello"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	chatVal, _ := out[0].AsChat()
	entries, err := chatVal.(chathistory.History).Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly 2 entries (user, assistant), got %d", len(entries))
	}
	msg, ok := out[1].AsMessage()
	if !ok || msg.Content != "hi back" {
		t.Fatalf("expected last reply message, got %v", out[1])
	}
	if !out[2].IsPlaceholder() {
		t.Fatalf("expected no failure emitted on success")
	}
}

func TestChatNodeInvokesToolsBeforeFinishing(t *testing.T) {
	n := build(t, "chat", nil)
	agent := &mockAgent{
		replies: []wfvalue.ChatMessage{
			{Role: "assistant", Content: "let me check"},
			{Role: "assistant", Content: "done"},
		},
		calls: [][]wfvalue.ToolCall{
			{{ID: "1", Name: "lookup"}},
		},
	}
	handle := &mockToolHandle{result: "result-data"}
	rc := &wfexternal.RunContext{
		AgentFactory: &mockAgentFactory{agent: agent},
		Toolbox:      &mockToolbox{handle: handle},
	}
	out, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Agent(wfvalue.AgentSpec{Model: "m"}),
		wfvalue.Chat(chathistory.New()),
		wfvalue.Text("look it up"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(handle.calls) != 1 || handle.calls[0] != "lookup" {
		t.Fatalf("expected tool invoked once, got %v", handle.calls)
	}
	msg, _ := out[1].AsMessage()
	if msg.Content != "done" {
		t.Fatalf("expected final reply after tool round, got %v", msg)
	}
}

func TestChatNodeNoAgentFactoryIsProviderError(t *testing.T) {
	n := build(t, "chat", nil)
	_, err := n.Execute(context.Background(), &wfexternal.RunContext{}, []wfvalue.Value{
		wfvalue.Agent(wfvalue.AgentSpec{}), wfvalue.Chat(chathistory.New()), wfvalue.Text(""),
	})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrProvider {
		t.Fatalf("expected Provider error, got %v", err)
	}
}

// TestStructuredChatRetriesUntilToolCall grounds end-to-end scenario 2:
// two non-tool-call replies followed by a valid tool call succeeds on
// the third attempt.
func TestStructuredChatRetriesUntilToolCall(t *testing.T) {
	n := build(t, "structured_chat", map[string]any{"retries": 2})
	agent := &mockAgent{
		replies: []wfvalue.ChatMessage{
			{Role: "assistant", Content: "no tool yet"},
			{Role: "assistant", Content: "still no tool"},
			{Role: "assistant", Content: "calling now"},
		},
		calls: [][]wfvalue.ToolCall{
			nil,
			nil,
			{{ID: "1", Name: "submit", Arguments: map[string]any{"x": float64(1)}}},
		},
	}
	rc := &wfexternal.RunContext{AgentFactory: &mockAgentFactory{agent: agent}}
	schema := map[string]any{"type": "object", "required": []any{"x"}}

	out, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Agent(wfvalue.AgentSpec{Model: "m"}),
		wfvalue.Chat(chathistory.New()),
		wfvalue.JSON(schema),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if name, _ := out[1].AsText(); name != "submit" {
		t.Fatalf("expected final tool name 'submit', got %q", name)
	}
	args, _ := out[2].AsJSON()
	if args.(map[string]any)["x"] != float64(1) {
		t.Fatalf("unexpected args: %v", args)
	}
	chatVal, _ := out[0].AsChat()
	entries, err := chatVal.(chathistory.History).Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	errorCount := 0
	for _, e := range entries {
		if e.Content.Kind == chathistory.ContentError {
			errorCount++
		}
	}
	if errorCount != 2 {
		t.Fatalf("expected 2 recorded retry errors in history, got %d", errorCount)
	}
}

// TestStructuredChatNoRetriesMissingToolCall grounds the boundary
// behaviour: retries=0 and no tool call on the first reply returns
// MissingToolCall immediately.
func TestStructuredChatNoRetriesMissingToolCall(t *testing.T) {
	n := build(t, "structured_chat", map[string]any{"retries": 0})
	agent := &mockAgent{replies: []wfvalue.ChatMessage{{Role: "assistant", Content: "no tool"}}}
	rc := &wfexternal.RunContext{AgentFactory: &mockAgentFactory{agent: agent}}

	_, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Agent(wfvalue.AgentSpec{Model: "m"}),
		wfvalue.Chat(chathistory.New()),
		wfvalue.Placeholder(wfvalue.KindJSON),
	})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrMissingToolCall {
		t.Fatalf("expected MissingToolCall, got %v", err)
	}
}

func TestStructuredChatSchemaViolationExhaustsToValidation(t *testing.T) {
	n := build(t, "structured_chat", map[string]any{"retries": 0})
	agent := &mockAgent{
		replies: []wfvalue.ChatMessage{{Role: "assistant", Content: "bad args"}},
		calls:   [][]wfvalue.ToolCall{{{ID: "1", Name: "submit", Arguments: map[string]any{}}}},
	}
	rc := &wfexternal.RunContext{AgentFactory: &mockAgentFactory{agent: agent}}
	schema := map[string]any{"type": "object", "required": []any{"x"}}

	_, err := n.Execute(context.Background(), rc, []wfvalue.Value{
		wfvalue.Agent(wfvalue.AgentSpec{Model: "m"}),
		wfvalue.Chat(chathistory.New()),
		wfvalue.JSON(schema),
	})
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Kind != ErrValidation {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

// ─── Structural ───

func TestPreviewEmitsOnNonPlaceholderInputOnly(t *testing.T) {
	n := build(t, "preview", nil)
	ch := make(chan wfexternal.OutputMessage, 1)
	rc := &wfexternal.RunContext{Outputs: ch}
	if _, err := n.Execute(context.Background(), rc, []wfvalue.Value{wfvalue.Placeholder(wfvalue.KindJSON)}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("expected no emission for a placeholder input")
	default:
	}
	if _, err := n.Execute(context.Background(), rc, []wfvalue.Value{wfvalue.JSON(1.0)}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	select {
	case msg := <-ch:
		if msg.Label != "preview" {
			t.Fatalf("expected label 'preview', got %q", msg.Label)
		}
	default:
		t.Fatalf("expected an emission for a live input")
	}
}

func TestOutputNodeEmitsLabeledValue(t *testing.T) {
	n := build(t, "output_node", nil)
	ch := make(chan wfexternal.OutputMessage, 1)
	rc := &wfexternal.RunContext{Outputs: ch}
	if _, err := n.Execute(context.Background(), rc, []wfvalue.Value{wfvalue.Text("result"), wfvalue.JSON("safe")}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	msg := <-ch
	if msg.Label != "result" {
		t.Fatalf("expected label 'result', got %q", msg.Label)
	}
	if s, _ := msg.Value.AsJSON(); s != "safe" {
		t.Fatalf("expected value 'safe', got %v", msg.Value)
	}
}

func TestCommentNodeIsInert(t *testing.T) {
	n := build(t, "comment", nil)
	if n.Inputs() != 0 || n.Outputs() != 0 {
		t.Fatalf("expected comment to have no pins")
	}
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, nil)
	if err != nil || out != nil {
		t.Fatalf("expected comment execute to be a no-op, got %v %v", out, err)
	}
}

func TestSubgraphNodeDelegatesToInstalledRunner(t *testing.T) {
	prev := RunSubgraph
	defer func() { RunSubgraph = prev }()

	var sawInputs []wfvalue.Value
	RunSubgraph = func(_ context.Context, _ *wfexternal.RunContext, _ wfgraph.ShadowGraph, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
		sawInputs = inputs
		return []wfvalue.Value{wfvalue.Chat(chathistory.New())}, nil
	}

	n := build(t, "subgraph", nil)
	inputs := []wfvalue.Value{wfvalue.Chat(chathistory.New()), wfvalue.Text("p")}
	out, err := n.Execute(context.Background(), &wfexternal.RunContext{}, inputs)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if len(sawInputs) != 2 {
		t.Fatalf("expected inputs forwarded to installed runner, got %v", sawInputs)
	}
}

func TestSubgraphNodeErrorsWithoutInstalledRunner(t *testing.T) {
	prev := RunSubgraph
	RunSubgraph = nil
	defer func() { RunSubgraph = prev }()

	n := build(t, "subgraph", nil)
	_, err := n.Execute(context.Background(), &wfexternal.RunContext{}, nil)
	if err == nil {
		t.Fatalf("expected error with no subgraph runner installed")
	}
}
