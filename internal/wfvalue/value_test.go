package wfvalue

import (
	"errors"
	"testing"
)

func TestKindCompatible(t *testing.T) {
	accepted := []Kind{KindText, KindJSON}
	if !KindCompatible(KindText, accepted) {
		t.Fatalf("expected KindText to be compatible with %v", accepted)
	}
	if KindCompatible(KindNumber, accepted) {
		t.Fatalf("expected KindNumber not to be compatible with %v", accepted)
	}
}

func TestPlaceholderRoundTripsItsKind(t *testing.T) {
	p := Placeholder(KindChat)
	if !p.IsPlaceholder() {
		t.Fatalf("expected IsPlaceholder true")
	}
	if p.Kind() != KindPlaceholder {
		t.Fatalf("expected static Kind() to report Placeholder, got %v", p.Kind())
	}
	if p.PlaceholderKind() != KindChat {
		t.Fatalf("expected PlaceholderKind to report the stood-in kind, got %v", p.PlaceholderKind())
	}
}

func TestValueAccessorsRejectWrongKind(t *testing.T) {
	v := Text("hi")
	if _, ok := v.AsNumber(); ok {
		t.Fatalf("expected AsNumber to fail on a Text value")
	}
	if s, ok := v.AsText(); !ok || s != "hi" {
		t.Fatalf("expected AsText to succeed, got %q %v", s, ok)
	}
}

func TestFailureValueCarriesError(t *testing.T) {
	cause := errors.New("boom")
	v := Failure(cause)
	if v.Kind() != KindFailure {
		t.Fatalf("expected KindFailure, got %v", v.Kind())
	}
	got, ok := v.AsFailure()
	if !ok || !errors.Is(got, cause) {
		t.Fatalf("expected underlying failure preserved, got %v", got)
	}
}

func TestToolSelectorUnion(t *testing.T) {
	a := ToolSelector{Names: []string{"x", "y"}}
	b := ToolSelector{Names: []string{"y", "z"}}
	u := a.Union(b)
	if u.All {
		t.Fatalf("expected union of non-All selectors not to be All")
	}
	want := map[string]bool{"x": true, "y": true, "z": true}
	if len(u.Names) != len(want) {
		t.Fatalf("expected 3 deduplicated names, got %v", u.Names)
	}
	for _, n := range u.Names {
		if !want[n] {
			t.Fatalf("unexpected name %q in union", n)
		}
	}
}

func TestToolSelectorUnionAllDominates(t *testing.T) {
	a := ToolSelector{All: true}
	b := ToolSelector{Names: []string{"x"}}
	if !a.Union(b).All {
		t.Fatalf("expected union with an All selector to be All")
	}
	if !b.Union(a).All {
		t.Fatalf("expected union to be commutative for All")
	}
}

func TestKindStringCoversAllVariants(t *testing.T) {
	for k := KindPlaceholder; k <= KindFloatList; k++ {
		if k.String() == "" {
			t.Fatalf("expected non-empty String() for kind %d", int(k))
		}
	}
	if got := Kind(999).String(); got == "" {
		t.Fatalf("expected a fallback string for unknown kinds")
	}
}
