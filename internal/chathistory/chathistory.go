// Package chathistory implements a persistent, branchable message DAG
// keyed by content-addressed identity, mirroring the copy-on-write
// persistence style internal/store/memory uses for its maps (grounded on
// the teacher's in-memory store) and minting ids with oklog/ulid/v2 the
// same way that store does.
package chathistory

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

var (
	ErrBranchMissing = errors.New("chathistory: branch missing")
	ErrEntryMissing  = errors.New("chathistory: entry missing")
)

// ContentKind discriminates ChatEntry.Content.
type ContentKind int

const (
	ContentMessage ContentKind = iota
	ContentAside
	ContentError
)

// Message is a minimal role/text turn; richer content (tool calls, media)
// lives in internal/wfvalue.ChatMessage and is carried opaquely here as
// Payload so chathistory has no dependency on the provider wire format.
type Message struct {
	Role    string
	Payload any
}

// Aside is a non-interactive sub-conversation embedded in the main chat,
// e.g. the transcript of a StructuredChat retry loop.
type Aside struct {
	Automation string
	Prompt     string
	Collapsed  bool
	Content    []Message
}

// Content is the payload of a ChatEntry: exactly one of Message, Aside,
// or an error string is meaningful, selected by Kind.
type Content struct {
	Kind    ContentKind
	Message Message
	Aside   Aside
	Error   string
}

// ChatEntry is one node in the history DAG.
type ChatEntry struct {
	ID      string
	Parent  string // empty = root
	Branch  string
	Content Content
}

// History is an immutable snapshot of a chat DAG. All mutators return a
// new History sharing unchanged entries with the receiver (copy-on-write
// over a plain Go map — no HAMT/immutable-B-tree library appears
// anywhere in the retrieval pack, so this shallow-copy scheme is used in
// its place; see DESIGN.md).
type History struct {
	store    map[string]ChatEntry
	branches map[string]string // branch name -> head entry id
	head     string
	base     string // optional masking cutoff id; "" = unmasked
}

// IsChatHistory satisfies internal/wfvalue.ChatHistoryValue so a History
// can be carried as a wfvalue.Value without wfvalue importing this
// package.
func (h History) IsChatHistory() {}

// New returns an empty history on branch "main".
func New() History {
	return History{
		store:    map[string]ChatEntry{},
		branches: map[string]string{"main": ""},
		head:     "main",
	}
}

func (h History) clone() History {
	store := make(map[string]ChatEntry, len(h.store))
	for k, v := range h.store {
		store[k] = v
	}
	branches := make(map[string]string, len(h.branches))
	for k, v := range h.branches {
		branches[k] = v
	}
	h.store, h.branches = store, branches
	return h
}

func (h History) Head() string           { return h.branches[h.head] }
func (h History) HeadBranch() string     { return h.head }
func (h History) Base() string           { return h.base }
func (h History) Entry(id string) (ChatEntry, bool) {
	e, ok := h.store[id]
	return e, ok
}

// Push creates a new entry parented at the current head of branch (or
// h.head if branch is empty), inserts it, and advances that branch's
// head. Satisfies H1/H2.
func (h History) Push(content Content, branch string) (History, ChatEntry) {
	if branch == "" {
		branch = h.head
	}
	parent := h.branches[branch]
	entry := ChatEntry{
		ID:      ulid.Make().String(),
		Parent:  parent,
		Branch:  branch,
		Content: content,
	}
	n := h.clone()
	n.store[entry.ID] = entry
	n.branches[branch] = entry.ID
	return n, entry
}

// Extend repeatedly pushes each content in order onto branch.
func (h History) Extend(contents []Content, branch string) (History, []ChatEntry) {
	entries := make([]ChatEntry, 0, len(contents))
	cur := h
	for _, c := range contents {
		var e ChatEntry
		cur, e = cur.Push(c, branch)
		entries = append(entries, e)
	}
	return cur, entries
}

// SwitchBranch changes the active branch. If name is unknown and parent
// is non-empty, a new branch rooted at parent is created.
func (h History) SwitchBranch(name, parent string) (History, error) {
	n := h.clone()
	if _, ok := n.branches[name]; !ok {
		if parent != "" {
			if _, ok := n.store[parent]; !ok {
				return h, fmt.Errorf("%w: %s", ErrEntryMissing, parent)
			}
		}
		n.branches[name] = parent
	}
	n.head = name
	return n, nil
}

// RenameBranch relabels the branch tag on every entry whose branch
// transitively equals old, walking from old's head upwards until an
// ancestor with a different branch is reached.
func (h History) RenameBranch(oldName, newName string) (History, error) {
	headID, ok := h.branches[oldName]
	if !ok {
		return h, fmt.Errorf("%w: %s", ErrBranchMissing, oldName)
	}
	n := h.clone()
	id := headID
	for id != "" {
		e, ok := n.store[id]
		if !ok || e.Branch != oldName {
			break
		}
		e.Branch = newName
		n.store[id] = e
		id = e.Parent
	}
	delete(n.branches, oldName)
	n.branches[newName] = headID
	if n.head == oldName {
		n.head = newName
	}
	return n, nil
}

// PromoteBranch walks upward from branches[b]'s head, relabelling the
// first contiguous run of a differing parent-branch to b, stopping at
// the first grandparent whose branch differs from the one just
// relabelled.
func (h History) PromoteBranch(b string) (History, error) {
	headID, ok := h.branches[b]
	if !ok {
		return h, fmt.Errorf("%w: %s", ErrBranchMissing, b)
	}
	n := h.clone()

	head, ok := n.store[headID]
	if !ok {
		return n, nil // empty branch, nothing to promote
	}
	ownBranch := head.Branch

	id := head.Parent
	var relabelFrom, runStart string
	for id != "" {
		e, ok := n.store[id]
		if !ok {
			break
		}
		if e.Branch == ownBranch {
			id = e.Parent
			continue
		}
		relabelFrom = e.Branch
		runStart = id
		break
	}
	if relabelFrom == "" {
		return n, nil
	}

	id = runStart
	for id != "" {
		e, ok := n.store[id]
		if !ok || e.Branch != relabelFrom {
			break
		}
		e.Branch = b
		n.store[id] = e
		id = e.Parent
	}
	return n, nil
}

// PruneBranch removes entries along the head-ward chain whose branch
// equals b. If head == b, the active head shifts to the first entry
// encountered with a different branch.
func (h History) PruneBranch(b string) (History, error) {
	headID, ok := h.branches[b]
	if !ok {
		return h, fmt.Errorf("%w: %s", ErrBranchMissing, b)
	}
	n := h.clone()

	id := headID
	var firstOther string
	for id != "" {
		e, ok := n.store[id]
		if !ok {
			break
		}
		if e.Branch != b {
			firstOther = id
			break
		}
		delete(n.store, id)
		id = e.Parent
	}
	delete(n.branches, b)
	if n.head == b {
		if firstOther != "" {
			if e, ok := n.store[firstOther]; ok {
				n.head = e.Branch
			}
		} else {
			n.head = "main"
		}
	}
	return n, nil
}

// IterBetween ascends parents from end collecting entries, including
// start itself once reached, then returns them in chronological order.
// start is the oldest entry still visible, matching the masking
// convention that entries strictly older than a cutoff are hidden, the
// cutoff itself is not.
func (h History) IterBetween(start, end string) ([]ChatEntry, error) {
	if end == "" {
		return nil, nil
	}
	var out []ChatEntry
	id := end
	for id != "" {
		e, ok := h.store[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEntryMissing, id)
		}
		out = append(out, e)
		if id == start {
			break
		}
		id = e.Parent
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Iter walks the active branch from its head, honoring Base as a
// masking cutoff, and returns entries in chronological order (H3).
func (h History) Iter() ([]ChatEntry, error) {
	return h.IterBetween(h.base, h.Head())
}

// Lineage maps parent-branch -> set of child-branches; the empty string
// key holds roots (branches with no parent branch observed).
func (h History) Lineage() map[string]map[string]struct{} {
	out := map[string]map[string]struct{}{}
	for _, e := range h.store {
		parentBranch := ""
		if e.Parent != "" {
			if p, ok := h.store[e.Parent]; ok {
				parentBranch = p.Branch
			}
		}
		if parentBranch == e.Branch {
			continue
		}
		if out[parentBranch] == nil {
			out[parentBranch] = map[string]struct{}{}
		}
		out[parentBranch][e.Branch] = struct{}{}
	}
	return out
}

// WithBase returns a masked view: Iter stops at id instead of the root.
func (h History) WithBase(id string) History {
	n := h
	n.base = id
	return n
}

// FindCommon returns the lowest common ancestor id between h's head and
// other's head by walking both parent chains.
func (h History) FindCommon(other History) (string, bool) {
	seen := map[string]struct{}{}
	id := h.Head()
	for id != "" {
		seen[id] = struct{}{}
		e, ok := h.store[id]
		if !ok {
			break
		}
		id = e.Parent
	}
	id = other.Head()
	for id != "" {
		if _, ok := seen[id]; ok {
			return id, true
		}
		e, ok := other.store[id]
		if !ok {
			break
		}
		id = e.Parent
	}
	return "", false
}

// IsSubsetOf reports whether every id in h exists in other with the same
// parent — the definition of "session is a subset of the final chat"
// used by Finish's overwrite guard (spec open question, resolved: exact
// parent-preserving containment).
func (h History) IsSubsetOf(other History) bool {
	for id, e := range h.store {
		oe, ok := other.store[id]
		if !ok || oe.Parent != e.Parent {
			return false
		}
	}
	return true
}
