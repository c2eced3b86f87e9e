package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/wrenly/hearth/internal/homeassistant"
)

// fakeStates is a StateSource backed by a fixed slice.
type fakeStates struct {
	states []homeassistant.State
	err    error
}

func (f *fakeStates) States(_ context.Context, domain string) ([]homeassistant.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	if domain == "" {
		return f.states, nil
	}
	var out []homeassistant.State
	for _, s := range f.states {
		if s.Domain() == domain {
			out = append(out, s)
		}
	}
	return out, nil
}

func light(id, name string) homeassistant.State {
	return homeassistant.State{
		EntityID:   id,
		State:      "off",
		Attributes: map[string]any{"friendly_name": name},
	}
}

func TestResolveEntityExactMatch(t *testing.T) {
	r := NewResolver(&fakeStates{states: []homeassistant.State{
		light("light.kitchen", "厨房灯"),
		light("light.living_room", "客厅的灯"),
	}}, nil)

	got, err := r.ResolveEntity(context.Background(), "light", "客厅的灯")
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if got.EntityID != "light.living_room" {
		t.Errorf("entity = %q, want light.living_room", got.EntityID)
	}
}

func TestResolveEntitySubstringBeatsSimilarity(t *testing.T) {
	r := NewResolver(&fakeStates{states: []homeassistant.State{
		light("light.a", "书房台灯"),
		light("light.b", "客厅吸顶灯"),
	}}, nil)

	got, err := r.ResolveEntity(context.Background(), "light", "客厅")
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if got.EntityID != "light.b" {
		t.Errorf("entity = %q, want light.b", got.EntityID)
	}
}

func TestResolveEntityObjectIDMatch(t *testing.T) {
	r := NewResolver(&fakeStates{states: []homeassistant.State{
		light("light.desk_lamp", "Desk Lamp"),
		light("light.other", "Other"),
	}}, nil)

	got, err := r.ResolveEntity(context.Background(), "light", "desk_lamp")
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if got.EntityID != "light.desk_lamp" {
		t.Errorf("entity = %q", got.EntityID)
	}
}

func TestResolveEntitySimilarityThreshold(t *testing.T) {
	r := NewResolver(&fakeStates{states: []homeassistant.State{
		light("light.bedroom_lamp", "bedroom lamp"),
		light("light.hallway", "hallway light"),
	}}, nil)

	// One edit away from "bedroom lamp" and well above the 0.85 ratio.
	got, err := r.ResolveEntity(context.Background(), "light", "bedroom lamps")
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if got.EntityID != "light.bedroom_lamp" {
		t.Errorf("entity = %q, want light.bedroom_lamp", got.EntityID)
	}
}

func TestResolveEntityFallsBackToFirst(t *testing.T) {
	// Nothing resembles the hint; the first entity in the domain is
	// returned rather than an error.
	r := NewResolver(&fakeStates{states: []homeassistant.State{
		light("light.first", "aaaa"),
		light("light.second", "bbbb"),
	}}, nil)

	got, err := r.ResolveEntity(context.Background(), "light", "zzzzzzzz")
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if got.EntityID != "light.first" {
		t.Errorf("entity = %q, want light.first (documented fallback)", got.EntityID)
	}
}

func TestResolveEntityEmptyDomain(t *testing.T) {
	r := NewResolver(&fakeStates{}, nil)

	_, err := r.ResolveEntity(context.Background(), "cover", "窗帘")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
	if nf.Domain != "cover" {
		t.Errorf("domain = %q", nf.Domain)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"abc", "abc", 1, 1},
		{"kitchen light", "kitchen lights", 0.9, 1},
		{"abc", "xyz", 0, 0.1},
		{"", "abc", 0, 0},
	}
	for _, tt := range tests {
		got := similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("similarity(%q, %q) = %f, want in [%f, %f]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}
