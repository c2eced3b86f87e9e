package connwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fastOptions keeps probe spacing in the millisecond range so the
// transition tests finish quickly.
func fastOptions(probe Probe) Options {
	return Options{
		Probe:          probe,
		PollInterval:   5 * time.Millisecond,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		ProbeTimeout:   time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOnUpFiresOnFirstSuccess(t *testing.T) {
	var ups atomic.Int32
	opts := fastOptions(func(context.Context) error { return nil })
	opts.OnUp = func() { ups.Add(1) }

	w := Start(context.Background(), opts)
	defer w.Stop()

	waitFor(t, "ready", w.Ready)
	waitFor(t, "OnUp", func() bool { return ups.Load() == 1 })

	// Steady-state polling must not refire the transition callback.
	time.Sleep(30 * time.Millisecond)
	if got := ups.Load(); got != 1 {
		t.Errorf("OnUp fired %d times, want 1", got)
	}
}

func TestDownAndRecovery(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	probeErr := errors.New("connection refused")

	var downs, ups atomic.Int32
	opts := fastOptions(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return probeErr
	})
	opts.OnUp = func() { ups.Add(1) }
	opts.OnDown = func(error) { downs.Add(1) }

	w := Start(context.Background(), opts)
	defer w.Stop()

	waitFor(t, "initial ready", w.Ready)

	healthy.Store(false)
	waitFor(t, "down transition", func() bool { return !w.Ready() })
	waitFor(t, "OnDown", func() bool { return downs.Load() == 1 })

	st := w.Status()
	if st.Ready || st.LastError == "" {
		t.Errorf("status = %+v, want not ready with error", st)
	}

	healthy.Store(true)
	waitFor(t, "recovery", w.Ready)
	waitFor(t, "OnUp after recovery", func() bool { return ups.Load() == 2 })
}

func TestBackoffWhileDown(t *testing.T) {
	var probes atomic.Int32
	opts := fastOptions(func(context.Context) error {
		probes.Add(1)
		return errors.New("unreachable")
	})
	opts.InitialBackoff = 10 * time.Millisecond
	opts.MaxBackoff = 40 * time.Millisecond

	w := Start(context.Background(), opts)
	defer w.Stop()

	// 10+20+40+40... an unbounded retry rate would blow far past this.
	time.Sleep(100 * time.Millisecond)
	if got := probes.Load(); got > 6 {
		t.Errorf("%d probes in 100ms, backoff not applied", got)
	}
	if w.Ready() {
		t.Error("watcher ready with a failing probe")
	}
}

func TestStopUnblocks(t *testing.T) {
	w := Start(context.Background(), fastOptions(func(context.Context) error { return nil }))

	doneCh := make(chan struct{})
	go func() {
		w.Stop()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStartPanicsWithoutProbe(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Start accepted a nil probe")
		}
	}()
	Start(context.Background(), Options{})
}
