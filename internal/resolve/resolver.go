// Package resolve maps free-text device names, modes, and time
// expressions onto concrete Home Assistant entities and values.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wrenly/hearth/internal/homeassistant"
)

// StateSource provides live entity state. Implemented by the HA REST
// client and by the cached snapshot wrapper.
type StateSource interface {
	States(ctx context.Context, domain string) ([]homeassistant.State, error)
}

// Resolver matches utterance fragments against live entity state.
type Resolver struct {
	states StateSource
	logger *slog.Logger
}

// NewResolver creates a resolver over the given state source.
func NewResolver(states StateSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{states: states, logger: logger}
}

// NotFoundError reports that no entity could be resolved.
type NotFoundError struct {
	Domain string
	Hint   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("no entities found in domain %q", e.Domain)
	}
	return fmt.Sprintf("no %s entity matching %q found", e.Domain, e.Hint)
}

// acceptRatio is the minimum similarity for a non-exact match,
// on a 0..1 edit-distance ratio.
const acceptRatio = 0.85

// ResolveEntity finds the entity in domain best matching the free-text
// hint. Exact, prefix, and substring matches on the friendly name win
// over pure similarity. When nothing clears the similarity threshold
// the first entity in the domain is returned; see the package tests for
// why this quirk is preserved.
func (r *Resolver) ResolveEntity(ctx context.Context, domain, nameHint string) (homeassistant.State, error) {
	entities, err := r.states.States(ctx, domain)
	if err != nil {
		return homeassistant.State{}, fmt.Errorf("list %s entities: %w", domain, err)
	}
	if len(entities) == 0 {
		return homeassistant.State{}, &NotFoundError{Domain: domain}
	}

	hint := strings.ToLower(strings.TrimSpace(nameHint))
	if hint == "" {
		return entities[0], nil
	}

	type candidate struct {
		state homeassistant.State
		rank  int // 0 exact, 1 prefix, 2 substring
	}
	var best *candidate

	for _, e := range entities {
		name := strings.ToLower(e.FriendlyName())
		objectID := strings.ToLower(objectID(e.EntityID))

		rank := -1
		switch {
		case name == hint || objectID == hint:
			rank = 0
		case strings.HasPrefix(name, hint):
			rank = 1
		case strings.Contains(name, hint) || strings.Contains(hint, name):
			rank = 2
		}
		if rank < 0 {
			continue
		}
		if best == nil || rank < best.rank {
			e := e
			best = &candidate{state: e, rank: rank}
			if rank == 0 {
				break
			}
		}
	}
	if best != nil {
		r.logger.Debug("entity resolved",
			"domain", domain,
			"hint", nameHint,
			"entity_id", best.state.EntityID,
			"rank", best.rank,
		)
		return best.state, nil
	}

	// No structural match; fall back to edit-distance similarity.
	bestRatio := 0.0
	bestIdx := -1
	for i, e := range entities {
		ratio := similarity(hint, strings.ToLower(e.FriendlyName()))
		if ratio > bestRatio {
			bestRatio = ratio
			bestIdx = i
		}
	}
	if bestIdx >= 0 && bestRatio >= acceptRatio {
		r.logger.Debug("entity resolved by similarity",
			"domain", domain,
			"hint", nameHint,
			"entity_id", entities[bestIdx].EntityID,
			"ratio", bestRatio,
		)
		return entities[bestIdx], nil
	}

	// Nothing cleared the threshold: return the first entity in the
	// domain. Deliberate carry-over from the original behavior rather
	// than an error; callers log the hint so misfires are visible.
	r.logger.Warn("no entity cleared similarity threshold, using first in domain",
		"domain", domain,
		"hint", nameHint,
		"entity_id", entities[0].EntityID,
		"best_ratio", bestRatio,
	)
	return entities[0], nil
}

// objectID returns the part of an entity ID after the dot.
func objectID(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}

// similarity is 1 - normalized Levenshtein distance over runes.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	dist := levenshtein(ra, rb)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	return 1 - float64(dist)/float64(longer)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
