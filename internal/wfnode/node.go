// Package wfnode is the Node Catalog: a closed, enumerable set of node
// kinds, each implementing pin arity/kinds, priority, and execution.
// The registry/factory pattern is kept nearly verbatim from the
// teacher's internal/service/workflow/node.go (RegisterNodeType /
// GetNodeFactory / RegisteredNodeTypes via package-level init()), which
// is exactly the "single enumeration point" spec.md §9 asks for.
package wfnode

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

// WorkflowError is the taxonomy from spec.md §7. Every recoverable
// failure a node returns is one of these, wrapped with context via
// fmt.Errorf's %w the way the rest of this codebase wraps errors.
type ErrorKind int

const (
	ErrInput ErrorKind = iota
	ErrRequired
	ErrConversion
	ErrWireKind
	ErrProvider
	ErrMissingToolCall
	ErrValidation
	ErrTimeout
	ErrCascadedFrom
	ErrInterrupted
	ErrUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInput:
		return "Input"
	case ErrRequired:
		return "Required"
	case ErrConversion:
		return "Conversion"
	case ErrWireKind:
		return "WireKind"
	case ErrProvider:
		return "Provider"
	case ErrMissingToolCall:
		return "MissingToolCall"
	case ErrValidation:
		return "Validation"
	case ErrTimeout:
		return "Timeout"
	case ErrCascadedFrom:
		return "CascadedFrom"
	case ErrInterrupted:
		return "Interrupted"
	default:
		return "Unknown"
	}
}

// WorkflowError pairs a taxonomy kind with the underlying cause.
type WorkflowError struct {
	Kind ErrorKind
	Node string
	Err  error
}

func (e *WorkflowError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Node, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, node string, err error) *WorkflowError {
	return &WorkflowError{Kind: kind, Node: node, Err: err}
}

// Recoverable reports whether this error kind may be caught by a
// Fallback's failure pin (spec §7 propagation rules).
func (e *WorkflowError) Recoverable() bool {
	switch e.Kind {
	case ErrProvider, ErrValidation, ErrMissingToolCall, ErrTimeout, ErrConversion:
		return true
	default:
		return false
	}
}

// Noder is the per-instance behavior of one node kind, constructed from
// its ShadowGraph payload by a Factory.
type Noder interface {
	Kind() string
	Inputs() int
	Outputs() int
	InKinds(pin int) []wfvalue.Kind
	OutKind(pin int) wfvalue.Kind
	Priority() int64
	IsProtected() bool
	// FailurePin reports the output pin index that carries Failure
	// values for nodes that can fail recoverably, and whether one
	// exists at all.
	FailurePin() (int, bool)
	Validate(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) error
	Execute(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error)
}

// Factory constructs a Noder from a node's current ShadowGraph payload.
// Variable-arity nodes (ExtendHistory, GatherJson) read their current
// wire multiplicity from info.Data, set by the editor's pin-visibility
// hooks (spec §9 "Variable arity").
type Factory func(info wfgraph.NodeInfo) (Noder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterNodeType adds a node kind to the catalog. Called from each
// node file's init(), mirroring the teacher's pattern exactly.
func RegisterNodeType(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

func GetNodeFactory(kind string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[kind]
	return f, ok
}

// RegisteredNodeTypes returns every known kind, sorted, for editor menus
// and round-trip validation.
func RegisteredNodeTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs a Noder for a graph node, failing with ErrUnknown if
// the kind isn't registered.
func Build(info wfgraph.NodeInfo) (Noder, error) {
	factory, ok := GetNodeFactory(info.Kind)
	if !ok {
		return nil, NewError(ErrUnknown, "", fmt.Errorf("unregistered node kind %q", info.Kind))
	}
	return factory(info)
}

func init() {
	// wfgraph can't import wfnode (wfnode already imports wfgraph for
	// NodeInfo/Wire), so WithWire's connect-time kind check is wired
	// through this package-level hook instead, same pattern as
	// wfnode.RunSubgraph being set by internal/wfrunner's init().
	wfgraph.PinKindLookup = func(info wfgraph.NodeInfo) (func(int) wfvalue.Kind, func(int) []wfvalue.Kind, error) {
		n, err := Build(info)
		if err != nil {
			return nil, nil, err
		}
		return n.OutKind, n.InKinds, nil
	}
}

// RequireInput validates presence and kind of a single input, returning
// an Input WorkflowError on mismatch — every node's Validate funnels
// through this (spec §4.4 "Node contract").
func RequireInput(node string, inputs []wfvalue.Value, pin int, accepted ...wfvalue.Kind) error {
	if pin >= len(inputs) {
		return NewError(ErrInput, node, fmt.Errorf("missing input pin %d", pin))
	}
	v := inputs[pin]
	if v.IsPlaceholder() {
		return NewError(ErrInput, node, fmt.Errorf("input pin %d not yet produced", pin))
	}
	if !wfvalue.KindCompatible(v.Kind(), accepted) {
		return NewError(ErrInput, node, fmt.Errorf("input pin %d has kind %s, want one of %v", pin, v.Kind(), accepted))
	}
	return nil
}

// Placeholders returns a slice of Placeholder values sized to n's
// output arity, used by the Runner to fill outputs a node can't
// produce on an early-return path (a Failure emission places
// Failure(err) on the node's failure pin and Placeholder(k) on every
// other output).
func Placeholders(n Noder) []wfvalue.Value {
	out := make([]wfvalue.Value, n.Outputs())
	for i := range out {
		out[i] = wfvalue.Placeholder(n.OutKind(i))
	}
	return out
}
