package chathistory

import "testing"

func msg(role, text string) Content {
	return Content{Kind: ContentMessage, Message: Message{Role: role, Payload: text}}
}

func TestPushAndIter(t *testing.T) {
	h := New()
	h, _ = h.Push(msg("user", "hello"), "")
	h, _ = h.Push(msg("assistant", "hi"), "")

	entries, err := h.Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content.Message.Payload != "hello" || entries[1].Content.Message.Payload != "hi" {
		t.Fatalf("unexpected chronological order: %+v", entries)
	}
}

func TestSwitchBranchAndLineage(t *testing.T) {
	h := New()
	h, root := h.Push(msg("user", "root"), "")

	h, err := h.SwitchBranch("alt", root.ID)
	if err != nil {
		t.Fatalf("switch branch: %v", err)
	}
	h, _ = h.Push(msg("user", "alt turn"), "")

	lineage := h.Lineage()
	if _, ok := lineage["main"]["alt"]; !ok {
		t.Fatalf("expected main -> alt lineage edge, got %+v", lineage)
	}
}

func TestRenameBranchInvolution(t *testing.T) {
	h := New()
	h, _ = h.Push(msg("user", "hello"), "")

	renamed, err := h.RenameBranch("main", "renamed")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	back, err := renamed.RenameBranch("renamed", "main")
	if err != nil {
		t.Fatalf("rename back: %v", err)
	}

	origEntries, _ := h.Iter()
	backEntries, _ := back.Iter()
	if len(origEntries) != len(backEntries) {
		t.Fatalf("involution changed entry count: %d vs %d", len(origEntries), len(backEntries))
	}
}

func TestPruneBranchShiftsHead(t *testing.T) {
	h := New()
	h, root := h.Push(msg("user", "root"), "")
	h, _ = h.SwitchBranch("feature", root.ID)
	h, _ = h.Push(msg("user", "feature turn"), "")

	h, err := h.PruneBranch("feature")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if h.HeadBranch() != "main" {
		t.Fatalf("expected head to shift back to main, got %s", h.HeadBranch())
	}
}

func TestWithBaseYieldsSuffix(t *testing.T) {
	h := New()
	h, _ = h.Push(msg("user", "one"), "")
	h, second := h.Push(msg("user", "two"), "")
	h, _ = h.Push(msg("user", "three"), "")

	full, _ := h.Iter()
	masked, _ := h.WithBase(second.ID).Iter()

	// The base entry itself stays visible; only entries strictly older
	// than it are hidden.
	if len(masked) != len(full)-1 {
		t.Fatalf("expected masking to hide exactly the entries strictly older than base, got %d vs %d", len(masked), len(full))
	}
	for i, e := range masked {
		if e.ID != full[i+1].ID {
			t.Fatalf("masked iteration is not a suffix of full iteration at %d", i)
		}
	}
	if masked[0].ID != second.ID {
		t.Fatalf("expected the base entry itself to remain the oldest visible entry, got %q", masked[0].ID)
	}
}

func TestPromoteBranchIsIdempotent(t *testing.T) {
	h := New()
	h, root := h.Push(msg("user", "root"), "")
	h, _ = h.SwitchBranch("feature", root.ID)
	h, _ = h.Push(msg("user", "feature turn"), "")

	once, err := h.PromoteBranch("feature")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	twice, err := once.PromoteBranch("feature")
	if err != nil {
		t.Fatalf("promote again: %v", err)
	}

	onceEntries, _ := once.Iter()
	twiceEntries, _ := twice.Iter()
	if len(onceEntries) != len(twiceEntries) {
		t.Fatalf("promote is not idempotent: %d vs %d entries", len(onceEntries), len(twiceEntries))
	}
	for i := range onceEntries {
		if onceEntries[i].Branch != twiceEntries[i].Branch {
			t.Fatalf("promote is not idempotent at entry %d: %q vs %q", i, onceEntries[i].Branch, twiceEntries[i].Branch)
		}
	}
}

func TestPromoteBranchRelabelsParentChainOntoOwnBranch(t *testing.T) {
	h := New()
	h, root := h.Push(msg("user", "root"), "")
	h, _ = h.SwitchBranch("feature", root.ID)
	h, tip := h.Push(msg("user", "feature turn"), "")

	promoted, err := h.PromoteBranch("feature")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	entries, err := promoted.IterBetween("", tip.ID)
	if err != nil {
		t.Fatalf("iter between: %v", err)
	}
	for _, e := range entries {
		if e.Branch != "feature" {
			t.Fatalf("expected every ancestor to be relabelled onto feature, found %q at %s", e.Branch, e.ID)
		}
	}
}

func TestIsSubsetOf(t *testing.T) {
	h := New()
	h, _ = h.Push(msg("user", "hello"), "")

	extended, _ := h.Push(msg("assistant", "hi"), "")

	if !h.IsSubsetOf(extended) {
		t.Fatalf("expected original history to be a subset of its extension")
	}
	if extended.IsSubsetOf(h) {
		t.Fatalf("extension must not be considered a subset of the shorter history")
	}
}
