package wfnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

var errNoToolCall = errors.New("invoke_tool: no tool call provided")

func init() {
	RegisterNodeType("tools", newToolsNode)
	RegisterNodeType("invoke_tool", newInvokeToolNode)
}

// ─── Tools ───

// toolsNode holds a configured ToolSelector and exposes it on an output.
type toolsNode struct {
	selector wfvalue.ToolSelector
}

func newToolsNode(info wfgraph.NodeInfo) (Noder, error) {
	sel := wfvalue.ToolSelector{}
	if all, ok := info.Data["all"].(bool); ok {
		sel.All = all
	}
	if raw, ok := info.Data["names"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				sel.Names = append(sel.Names, s)
			}
		}
	}
	return &toolsNode{selector: sel}, nil
}

func (n *toolsNode) Kind() string              { return "tools" }
func (n *toolsNode) Inputs() int                { return 0 }
func (n *toolsNode) Outputs() int               { return 1 }
func (n *toolsNode) Priority() int64            { return 0 }
func (n *toolsNode) IsProtected() bool          { return false }
func (n *toolsNode) FailurePin() (int, bool)    { return 0, false }
func (n *toolsNode) InKinds(int) []wfvalue.Kind { return nil }
func (n *toolsNode) OutKind(int) wfvalue.Kind   { return wfvalue.KindTools }

func (n *toolsNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *toolsNode) Execute(context.Context, *wfexternal.RunContext, []wfvalue.Value) ([]wfvalue.Value, error) {
	return []wfvalue.Value{wfvalue.Tools(n.selector)}, nil
}

// ─── InvokeTool ───

// invokeToolNode resolves a named tool from a selector, enforces an
// optional per-tool timeout, invokes it, appends the result as a tool
// message to the chat, and yields (history, response, text, failure).
type invokeToolNode struct{}

func newInvokeToolNode(wfgraph.NodeInfo) (Noder, error) { return &invokeToolNode{}, nil }

func (n *invokeToolNode) Kind() string           { return "invoke_tool" }
func (n *invokeToolNode) Inputs() int             { return 4 }
func (n *invokeToolNode) Outputs() int            { return 4 }
func (n *invokeToolNode) Priority() int64         { return 0 }
func (n *invokeToolNode) IsProtected() bool       { return false }
func (n *invokeToolNode) FailurePin() (int, bool) { return 3, true }

func (n *invokeToolNode) InKinds(pin int) []wfvalue.Kind {
	switch pin {
	case 0:
		return []wfvalue.Kind{wfvalue.KindChat}
	case 1:
		return []wfvalue.Kind{wfvalue.KindTools}
	case 2:
		return []wfvalue.Kind{wfvalue.KindText}
	default:
		return []wfvalue.Kind{wfvalue.KindJSON}
	}
}

func (n *invokeToolNode) OutKind(pin int) wfvalue.Kind {
	switch pin {
	case 0:
		return wfvalue.KindChat
	case 1:
		return wfvalue.KindMessage
	case 2:
		return wfvalue.KindText
	default:
		return wfvalue.KindFailure
	}
}

func (n *invokeToolNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	if err := RequireInput("invoke_tool", inputs, 0, wfvalue.KindChat); err != nil {
		return err
	}
	if err := RequireInput("invoke_tool", inputs, 1, wfvalue.KindTools); err != nil {
		return err
	}
	return RequireInput("invoke_tool", inputs, 2, wfvalue.KindText)
}

func (n *invokeToolNode) Execute(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	chatVal, _ := inputs[0].AsChat()
	history, ok := chatVal.(chathistory.History)
	if !ok {
		return nil, NewError(ErrInput, "invoke_tool", errUnexpectedChatPayload)
	}
	selector, _ := inputs[1].AsTools()
	name, _ := inputs[2].AsText()
	if name == "" {
		return nil, NewError(ErrRequired, "invoke_tool", errNoToolCall)
	}
	var args map[string]any
	if len(inputs) > 3 {
		if raw, ok := inputs[3].AsJSON(); ok {
			if m, ok := raw.(map[string]any); ok {
				args = m
			}
		}
	}

	if rc.Toolbox == nil {
		return nil, NewError(ErrProvider, "invoke_tool", fmt.Errorf("no toolbox configured"))
	}
	handle, err := rc.Toolbox.GetTools(ctx, selector)
	if err != nil {
		return nil, NewError(ErrProvider, "invoke_tool", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d, ok := handle.Timeout(name); ok {
		callCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, err := handle.Call(callCtx, name, args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, NewError(ErrTimeout, "invoke_tool", err)
		}
		return nil, NewError(ErrProvider, "invoke_tool", err)
	}

	msg := wfvalue.ChatMessage{
		Role: "tool",
		Content: []wfvalue.ContentBlock{{
			Type:    "tool_result",
			Name:    name,
			Content: result,
		}},
	}
	history, _ = history.Push(chathistory.Content{
		Kind:    chathistory.ContentMessage,
		Message: chathistory.Message{Role: "tool", Payload: msg},
	}, "")

	return []wfvalue.Value{
		wfvalue.Chat(history),
		wfvalue.Message(msg),
		wfvalue.Text(result),
		wfvalue.Placeholder(wfvalue.KindFailure),
	}, nil
}
