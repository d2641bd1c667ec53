package runregistry

import (
	"context"
	"testing"
)

func TestBeginEndCancel(t *testing.T) {
	reg, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, run := reg.Begin(context.Background(), "wf1")
	if _, ok := reg.Get(run.ID); !ok {
		t.Fatal("expected run to be tracked")
	}
	if len(reg.List()) != 1 {
		t.Fatalf("expected 1 run, got %d", len(reg.List()))
	}

	if !reg.Cancel(run.ID) {
		t.Fatal("expected cancel to succeed")
	}
	if !run.Interrupt.Load() {
		t.Fatal("expected interrupt flag set")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected run context cancelled")
	}

	reg.End(run.ID)
	if _, ok := reg.Get(run.ID); ok {
		t.Fatal("expected run removed")
	}
}

func TestLockFinishNoCluster(t *testing.T) {
	reg, _ := New(nil)
	if err := reg.LockFinish(context.Background(), "run1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := reg.UnlockFinish("run1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
