package homeassistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// StateCache mirrors live entity state from WebSocket state_changed
// events. Reads never touch the network, which keeps the resolver's
// fuzzy matching off the HA API hot path.
type StateCache struct {
	mu     sync.RWMutex
	states map[string]State
	primed bool
	logger *slog.Logger
}

// NewStateCache creates an empty cache.
func NewStateCache(logger *slog.Logger) *StateCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateCache{
		states: make(map[string]State),
		logger: logger,
	}
}

// Prime seeds the cache with a full state snapshot (from the REST API).
func (c *StateCache) Prime(states []State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range states {
		c.states[s.EntityID] = s
	}
	c.primed = true
	c.logger.Info("state cache primed", "entities", len(states))
}

// Primed reports whether a full snapshot has been loaded.
func (c *StateCache) Primed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primed
}

// Set stores a single entity state. Used by event feeds (WebSocket,
// MQTT statestream).
func (c *StateCache) Set(s State) {
	c.mu.Lock()
	c.states[s.EntityID] = s
	c.mu.Unlock()
}

// Delete removes an entity (entity removed from HA).
func (c *StateCache) Delete(entityID string) {
	c.mu.Lock()
	delete(c.states, entityID)
	c.mu.Unlock()
}

// Get returns the cached state for an entity.
func (c *StateCache) Get(entityID string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[entityID]
	return s, ok
}

// Snapshot returns cached states filtered to a domain. An empty domain
// returns everything. The returned slice is a copy.
func (c *StateCache) Snapshot(domain string) []State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]State, 0, len(c.states))
	for _, s := range c.states {
		if domain == "" || s.Domain() == domain {
			out = append(out, s)
		}
	}
	return out
}

// Run consumes WebSocket events until the context is cancelled or the
// channel closes. It blocks the calling goroutine.
func (c *StateCache) Run(ctx context.Context, events <-chan Event) {
	c.logger.Info("state cache feed started")
	defer c.logger.Info("state cache feed stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.applyEvent(ev)
		}
	}
}

func (c *StateCache) applyEvent(ev Event) {
	if ev.Type != "state_changed" {
		return
	}

	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		c.logger.Debug("failed to unmarshal state_changed data", "error", err)
		return
	}

	// NewState is nil when an entity is deleted.
	if data.NewState == nil {
		c.Delete(data.EntityID)
		return
	}

	c.Set(*data.NewState)
}

// CachedStates serves the resolver from the cache when primed and falls
// back to the REST client otherwise (startup, reconnect gaps).
type CachedStates struct {
	Cache  *StateCache
	Client *Client

	// MaxAge guards against serving a stale cache after a long
	// disconnect. Zero disables the check.
	MaxAge   time.Duration
	lastSeen time.Time
	mu       sync.Mutex
}

// States implements the resolver's state source.
func (c *CachedStates) States(ctx context.Context, domain string) ([]State, error) {
	if c.Cache != nil && c.Cache.Primed() && c.fresh() {
		return c.Cache.Snapshot(domain), nil
	}

	states, err := c.Client.States(ctx, domain)
	if err != nil {
		return nil, err
	}
	if c.Cache != nil && domain == "" {
		c.Cache.Prime(states)
		c.touch()
	}
	return states, nil
}

func (c *CachedStates) fresh() bool {
	if c.MaxAge <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen) < c.MaxAge
}

// Touch records cache activity (called when events arrive).
func (c *CachedStates) Touch() { c.touch() }

func (c *CachedStates) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}
