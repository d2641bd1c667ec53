package wfgraph

import (
	"encoding/json"
	"sort"
)

// wireFormat is ShadowGraph's on-disk/on-wire shape: every field
// exported so a WorkflowStore backend can marshal it directly, with
// disabled carried as a sorted slice since Go maps don't round-trip
// through JSON in a stable order.
type wireFormat struct {
	UUID     string              `json:"uuid"`
	Nodes    map[string]NodeInfo `json:"nodes"`
	Wires    []Wire              `json:"wires"`
	Disabled []string            `json:"disabled,omitempty"`
	Meta     Metadata            `json:"metadata"`
}

// MarshalJSON serializes a ShadowGraph for persistence (internal/store
// backends use this rather than reaching into unexported fields).
func (g ShadowGraph) MarshalJSON() ([]byte, error) {
	disabled := make([]string, 0, len(g.disabled))
	for id := range g.disabled {
		disabled = append(disabled, id)
	}
	sort.Strings(disabled)
	return json.Marshal(wireFormat{
		UUID:     g.UUID,
		Nodes:    g.nodes,
		Wires:    g.wires,
		Disabled: disabled,
		Meta:     g.meta,
	})
}

// UnmarshalJSON restores a ShadowGraph previously serialized by
// MarshalJSON.
func (g *ShadowGraph) UnmarshalJSON(data []byte) error {
	var wf wireFormat
	if err := json.Unmarshal(data, &wf); err != nil {
		return err
	}
	disabled := make(map[string]struct{}, len(wf.Disabled))
	for _, id := range wf.Disabled {
		disabled[id] = struct{}{}
	}
	if wf.Nodes == nil {
		wf.Nodes = map[string]NodeInfo{}
	}
	g.UUID = wf.UUID
	g.nodes = wf.Nodes
	g.wires = wf.Wires
	g.disabled = disabled
	g.meta = wf.Meta
	return nil
}
