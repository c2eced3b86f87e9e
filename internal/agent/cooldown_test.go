package agent

import (
	"context"
	"testing"
	"time"
)

func TestCooldownSpacesSameConversation(t *testing.T) {
	g := newCooldownGate(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := g.Wait(ctx, "c1"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := g.Wait(ctx, "c1"); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second turn waited %v, want ~50ms", elapsed)
	}
}

func TestCooldownConversationsAreIndependent(t *testing.T) {
	g := newCooldownGate(time.Second)
	ctx := context.Background()

	if err := g.Wait(ctx, "c1"); err != nil {
		t.Fatalf("Wait c1: %v", err)
	}

	start := time.Now()
	if err := g.Wait(ctx, "c2"); err != nil {
		t.Fatalf("Wait c2: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("unrelated conversation waited %v", elapsed)
	}
}

func TestCooldownDisabledWhenZero(t *testing.T) {
	g := newCooldownGate(0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := g.Wait(context.Background(), "c1"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("disabled cooldown waited %v", elapsed)
	}
}

func TestCooldownCancellation(t *testing.T) {
	g := newCooldownGate(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	if err := g.Wait(ctx, "c1"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	cancel()
	if err := g.Wait(ctx, "c1"); err == nil {
		t.Error("expected error from cancelled wait")
	}
}
