package wfnode

import (
	"context"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

func init() {
	RegisterNodeType("graft_history", newGraftHistoryNode)
	RegisterNodeType("mask_history", newMaskHistoryNode)
	RegisterNodeType("extend_history", newExtendHistoryNode)
}

// ─── GraftHistory ───

// graftHistoryNode merges an aside conversation into the main chat by
// splicing the aside's entries since the lowest common ancestor onto
// the main branch as a single collapsed Aside.
type graftHistoryNode struct{}

func newGraftHistoryNode(wfgraph.NodeInfo) (Noder, error) { return &graftHistoryNode{}, nil }

func (n *graftHistoryNode) Kind() string           { return "graft_history" }
func (n *graftHistoryNode) Inputs() int             { return 2 }
func (n *graftHistoryNode) Outputs() int            { return 1 }
func (n *graftHistoryNode) Priority() int64         { return 0 }
func (n *graftHistoryNode) IsProtected() bool       { return false }
func (n *graftHistoryNode) FailurePin() (int, bool) { return 0, false }
func (n *graftHistoryNode) InKinds(int) []wfvalue.Kind {
	return []wfvalue.Kind{wfvalue.KindChat}
}
func (n *graftHistoryNode) OutKind(int) wfvalue.Kind { return wfvalue.KindChat }

func (n *graftHistoryNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	if err := RequireInput("graft_history", inputs, 0, wfvalue.KindChat); err != nil {
		return err
	}
	return RequireInput("graft_history", inputs, 1, wfvalue.KindChat)
}

func (n *graftHistoryNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	mainVal, _ := inputs[0].AsChat()
	asideVal, _ := inputs[1].AsChat()
	main, ok := mainVal.(chathistory.History)
	if !ok {
		return nil, NewError(ErrInput, "graft_history", errUnexpectedChatPayload)
	}
	aside, ok := asideVal.(chathistory.History)
	if !ok {
		return nil, NewError(ErrInput, "graft_history", errUnexpectedChatPayload)
	}

	common, found := main.FindCommon(aside)
	entries, err := aside.IterBetween(common, aside.Head())
	if err != nil {
		return nil, NewError(ErrConversion, "graft_history", err)
	}
	// IterBetween now includes its start entry, but the common ancestor
	// is already present in main — the spliced segment must start one
	// entry past it, not at it.
	if found && len(entries) > 0 && entries[0].ID == common {
		entries = entries[1:]
	}

	segment := make([]chathistory.Message, 0, len(entries))
	for _, e := range entries {
		if e.Content.Kind == chathistory.ContentMessage {
			segment = append(segment, e.Content.Message)
		}
	}

	grafted, _ := main.Push(chathistory.Content{
		Kind: chathistory.ContentAside,
		Aside: chathistory.Aside{
			Automation: "graft_history",
			Collapsed:  true,
			Content:    segment,
		},
	}, "")

	return []wfvalue.Value{wfvalue.Chat(grafted)}, nil
}

// ─── MaskHistory ───

// maskHistoryNode caps how much history a downstream consumer sees via
// with_base; a limit that already covers the whole transcript is
// equivalent to no masking.
type maskHistoryNode struct{}

func newMaskHistoryNode(wfgraph.NodeInfo) (Noder, error) { return &maskHistoryNode{}, nil }

func (n *maskHistoryNode) Kind() string           { return "mask_history" }
func (n *maskHistoryNode) Inputs() int             { return 2 }
func (n *maskHistoryNode) Outputs() int            { return 1 }
func (n *maskHistoryNode) Priority() int64         { return 0 }
func (n *maskHistoryNode) IsProtected() bool       { return false }
func (n *maskHistoryNode) FailurePin() (int, bool) { return 0, false }

func (n *maskHistoryNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 0 {
		return []wfvalue.Kind{wfvalue.KindChat}
	}
	return []wfvalue.Kind{wfvalue.KindInteger}
}

func (n *maskHistoryNode) OutKind(int) wfvalue.Kind { return wfvalue.KindChat }

func (n *maskHistoryNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	return RequireInput("mask_history", inputs, 0, wfvalue.KindChat)
}

func (n *maskHistoryNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	chatVal, _ := inputs[0].AsChat()
	history, ok := chatVal.(chathistory.History)
	if !ok {
		return nil, NewError(ErrInput, "mask_history", errUnexpectedChatPayload)
	}
	limit := int64(-1)
	if len(inputs) > 1 {
		limit, _ = inputs[1].AsInteger()
	}
	if limit < 0 {
		return []wfvalue.Value{wfvalue.Chat(history)}, nil
	}

	entries, err := history.Iter()
	if err != nil {
		return nil, NewError(ErrConversion, "mask_history", err)
	}
	if int64(len(entries)) <= limit {
		return []wfvalue.Value{wfvalue.Chat(history)}, nil
	}
	// IterBetween/Iter include their base entry (chathistory.History.Iter
	// doc comment), so the cutoff itself counts toward limit.
	cut := len(entries) - int(limit)
	base := entries[cut].ID
	return []wfvalue.Value{wfvalue.Chat(history.WithBase(base))}, nil
}

// ─── ExtendHistory ───

// extendHistoryNode appends its `count` message inputs in pin order.
// Variable arity: the editor grows its inputs by one when the last pin
// becomes connected and shrinks it back when cleared; Build reads the
// current count from info.Data["data_arity"] (see dataArity).
type extendHistoryNode struct {
	count int
}

func newExtendHistoryNode(info wfgraph.NodeInfo) (Noder, error) {
	return &extendHistoryNode{count: dataArity(info, 1)}, nil
}

func (n *extendHistoryNode) Kind() string           { return "extend_history" }
func (n *extendHistoryNode) Inputs() int             { return 1 + n.count }
func (n *extendHistoryNode) Outputs() int            { return 1 }
func (n *extendHistoryNode) Priority() int64         { return 0 }
func (n *extendHistoryNode) IsProtected() bool       { return false }
func (n *extendHistoryNode) FailurePin() (int, bool) { return 0, false }

func (n *extendHistoryNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 0 {
		return []wfvalue.Kind{wfvalue.KindChat}
	}
	return []wfvalue.Kind{wfvalue.KindMessage}
}

func (n *extendHistoryNode) OutKind(int) wfvalue.Kind { return wfvalue.KindChat }

func (n *extendHistoryNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	return RequireInput("extend_history", inputs, 0, wfvalue.KindChat)
}

func (n *extendHistoryNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	chatVal, _ := inputs[0].AsChat()
	history, ok := chatVal.(chathistory.History)
	if !ok {
		return nil, NewError(ErrInput, "extend_history", errUnexpectedChatPayload)
	}
	contents := make([]chathistory.Content, 0, n.count)
	for i := 1; i < len(inputs); i++ {
		if inputs[i].IsPlaceholder() {
			continue
		}
		msg, ok := inputs[i].AsMessage()
		if !ok {
			return nil, NewError(ErrInput, "extend_history", errUnexpectedChatPayload)
		}
		contents = append(contents, chathistory.Content{
			Kind:    chathistory.ContentMessage,
			Message: chathistory.Message{Role: msg.Role, Payload: msg},
		})
	}
	history, _ = history.Extend(contents, "")
	return []wfvalue.Value{wfvalue.Chat(history)}, nil
}
