// Package connwatch monitors the Home Assistant connection and drives
// recovery. Hearth has exactly one upstream host, so this is a single
// watcher, not a fleet manager: probe until reachable with exponential
// backoff, then poll, firing transition callbacks so the caller can
// reconnect its WebSocket feed and re-prime the state cache.
//
// This is distinct from httpkit's transport-level retry, which covers
// sub-second dial races. connwatch covers multi-second to multi-minute
// outages: host restarts and network partitions.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Probe checks whether the host is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Options configures the watcher. Zero durations get defaults.
type Options struct {
	Probe  Probe
	Logger *slog.Logger

	// OnUp fires when the host transitions to reachable, including the
	// first successful probe. Runs on its own goroutine.
	OnUp func()

	// OnDown fires when the host transitions to unreachable. Runs on
	// its own goroutine.
	OnDown func(err error)

	// PollInterval is the probe spacing while the host is healthy
	// (default 60s).
	PollInterval time.Duration

	// InitialBackoff and MaxBackoff bound the retry spacing while the
	// host is down (defaults 2s and 60s). Each failed probe doubles the
	// delay up to the cap.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ProbeTimeout limits each probe call (default 10s).
	ProbeTimeout time.Duration
}

// Status is a health snapshot, JSON-shaped for the health endpoint.
type Status struct {
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors the host connection in a background goroutine.
type Watcher struct {
	opts   Options
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// Start launches a watcher. Panics if opts.Probe is nil; that is a
// programming error, not a runtime condition.
func Start(ctx context.Context, opts Options) *Watcher {
	if opts.Probe == nil {
		panic("connwatch: Options.Probe must not be nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 60 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)
	return w
}

// Ready reports whether the host is currently reachable.
func (w *Watcher) Ready() bool {
	return w.ready.Load()
}

// Status returns the current health snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// run probes forever: poll spacing while up, exponential backoff while
// down, transition callbacks on edges.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.opts.InitialBackoff
	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		wasReady := w.ready.Load()
		switch {
		case err == nil && !wasReady:
			w.ready.Store(true)
			delay = w.opts.InitialBackoff
			w.opts.Logger.Info("host connection up")
			if w.opts.OnUp != nil {
				go w.opts.OnUp()
			}
		case err != nil && wasReady:
			w.ready.Store(false)
			w.opts.Logger.Warn("host connection lost", "error", err)
			if w.opts.OnDown != nil {
				go w.opts.OnDown(err)
			}
		case err != nil:
			w.opts.Logger.Debug("host still unreachable",
				"error", err,
				"next_delay", delay.String(),
			)
		}

		var next time.Duration
		if err == nil {
			next = w.opts.PollInterval
		} else {
			next = delay
			delay *= 2
			if delay > w.opts.MaxBackoff {
				delay = w.opts.MaxBackoff
			}
		}
		if !sleepCtx(ctx, next) {
			return
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
	defer cancel()
	return w.opts.Probe(probeCtx)
}

func (w *Watcher) record(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
