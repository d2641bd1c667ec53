// Package wfexternal defines the contracts the Runner and Node Catalog
// consume from outside the engine: AgentFactory, Toolbox, Transmuter,
// WorkflowStore, and the RunContext/RootContext structs a driver uses to
// start a run. These are interfaces only — concrete adapters live in
// internal/llmprovider, internal/toolbox, internal/transmuter, and
// internal/store/*.
package wfexternal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

// Agent is a configured LLM client bound to a model/preamble/tool
// selector, as produced by AgentFactory.BuildAgent.
type Agent interface {
	// Prompt sends text plus history and returns the assistant's
	// response message, any tool calls it requested, and whether the
	// turn is finished (no further tool round needed).
	Prompt(ctx context.Context, text string, history []wfvalue.ChatMessage) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error)

	// Completion runs a single turn with tool choice forced to
	// required, used by StructuredChat.
	Completion(ctx context.Context, history []wfvalue.ChatMessage) (wfvalue.ChatMessage, []wfvalue.ToolCall, error)
}

// AgentFactory builds a configured Agent from an AgentSpec.
type AgentFactory interface {
	BuildAgent(ctx context.Context, spec wfvalue.AgentSpec) (Agent, error)
}

// ToolDef is a single tool's name/description/JSON-schema definition, as
// surfaced to a model's tool-calling API.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolHandle is a resolved, callable set of tools.
type ToolHandle interface {
	GetToolDefinitions() []ToolDef
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	// Timeout returns the configured per-tool timeout, if any.
	Timeout(name string) (time.Duration, bool)
}

// Toolbox resolves a ToolSelector into a callable ToolHandle.
type Toolbox interface {
	GetTools(ctx context.Context, selector wfvalue.ToolSelector) (ToolHandle, error)
}

// Filter is an initialized jq-dialect transform ready to run against
// JSON values.
type Filter interface {
	Run(ctx context.Context, input any) (any, error)
}

// Transmuter renders templates and compiles/runs JSON filters.
type Transmuter interface {
	InitFilter(ctx context.Context, text string) (Filter, error)
	RenderTemplate(ctx context.Context, text string, vars map[string]any) (string, error)
}

// WorkflowStore persists named ShadowGraphs.
type WorkflowStore interface {
	Load(ctx context.Context, name string) (wfgraph.ShadowGraph, error)
	Put(ctx context.Context, name string, graph wfgraph.ShadowGraph) error
	Remove(ctx context.Context, name string) error
	Description(ctx context.Context, name string) (string, error)
	Names(ctx context.Context) ([]string, error)
}

// OutputMessage is one (label, value) pair emitted on RunContext.Outputs,
// in the order nodes finish.
type OutputMessage struct {
	Label string
	Value wfvalue.Value
}

// RootContext is what a driver hands the Start node on its sole
// execution.
type RootContext struct {
	History     chathistory.History
	Workflow    string
	UserPrompt  string
	Model       string
	Temperature *float64
}

// RunContext is the per-run environment threaded through every node's
// Execute call.
type RunContext struct {
	AgentFactory AgentFactory
	Toolbox      Toolbox
	Transmuter   Transmuter

	// History is the session's shared chat cell. Only Finish writes it,
	// exactly once, at the end of a successful run (§5 "Shared
	// resources").
	History *chathistory.History

	Root RootContext

	// Outputs receives (label, value) emissions from OutputNode/Preview
	// in the order nodes finish (§5 "Output emission ... preserves
	// order").
	Outputs chan OutputMessage

	// Interrupt is consulted between Runner steps; setting it stops the
	// run after the in-flight node returns.
	Interrupt *atomic.Bool

	Errors chan error

	// Scratch is an optional side history carried through the run and
	// handed unchanged to nested subgraph runs; no catalog node reads or
	// writes it.
	Scratch *chathistory.History

	Streaming bool

	Graph wfgraph.ShadowGraph

	// NextWorkflow/NextPrompt support workflow chaining: a node may set
	// these to hand off to another named workflow after Finish.
	NextWorkflow atomic.Pointer[string]
	NextPrompt   atomic.Pointer[string]
}

// Interrupted reports whether the run has been asked to stop.
func (rc *RunContext) Interrupted() bool {
	return rc.Interrupt != nil && rc.Interrupt.Load()
}

// Emit sends an output message, dropping it if no consumer is attached
// (Outputs is nil) rather than blocking the run.
func (rc *RunContext) Emit(label string, v wfvalue.Value) {
	if rc.Outputs == nil {
		return
	}
	rc.Outputs <- OutputMessage{Label: label, Value: v}
}
