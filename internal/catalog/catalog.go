// Package catalog selects which tool prompts and schemas to attach to a
// model request based on the user utterance. The descriptor table is
// loaded once at startup and is immutable afterwards; callers receive
// the catalog by injection rather than through package state.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/wrenly/hearth/internal/glm"
)

//go:embed features.yaml
var defaultTable []byte

// Descriptor maps a keyword set to a prompt fragment and the tool
// schemas that fragment documents.
type Descriptor struct {
	Name     string      `yaml:"name"`
	Keywords []string    `yaml:"keywords"`
	Prompt   string      `yaml:"prompt"`
	Schemas  []SchemaDef `yaml:"schemas"`
}

// SchemaDef is a tool schema fragment in the YAML table.
type SchemaDef struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// shortcut routes a device-category keyword straight to one feature,
// bypassing overlap scoring.
type shortcut struct {
	Feature  string   `yaml:"feature"`
	Keywords []string `yaml:"keywords"`
}

type table struct {
	Shortcuts []shortcut   `yaml:"shortcuts"`
	Features  []Descriptor `yaml:"features"`
}

// Catalog is the immutable feature table.
type Catalog struct {
	shortcuts []shortcut
	features  []Descriptor
	byName    map[string]int
}

// New loads the embedded default table.
func New() (*Catalog, error) {
	return NewFromYAML(defaultTable)
}

// NewFromYAML builds a catalog from a YAML table.
func NewFromYAML(data []byte) (*Catalog, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse feature table: %w", err)
	}

	c := &Catalog{
		shortcuts: t.Shortcuts,
		features:  t.Features,
		byName:    make(map[string]int, len(t.Features)),
	}
	for i, f := range t.Features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if _, dup := c.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		c.byName[f.Name] = i
	}
	for _, s := range t.Shortcuts {
		if _, ok := c.byName[s.Feature]; !ok {
			return nil, fmt.Errorf("shortcut references unknown feature %q", s.Feature)
		}
	}
	return c, nil
}

// Feature returns a descriptor by name.
func (c *Catalog) Feature(name string) (Descriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.features[i], true
}

// Selection bounds. More than two prompt fragments per request bloats
// the system prompt without improving tool choice.
const (
	maxSelected = 2

	// A single keyword hit only counts when the keyword is longer than
	// this many runes; one-rune hits are too generic to trust.
	shortTokenRunes = 1

	// Keywords longer than this many runes are weighted double when
	// ranking competing descriptors.
	longKeywordRunes = 4
)

// SelectFeatures returns the descriptors relevant to the utterance, in
// a deterministic order. Empty input selects nothing.
func (c *Catalog) SelectFeatures(utterance string) []Descriptor {
	utterance = strings.ToLower(strings.TrimSpace(utterance))
	if utterance == "" {
		return nil
	}

	// Device-category shortcuts win outright.
	for _, s := range c.shortcuts {
		for _, kw := range s.Keywords {
			if strings.Contains(utterance, strings.ToLower(kw)) {
				d, _ := c.Feature(s.Feature)
				return []Descriptor{d}
			}
		}
	}

	type scored struct {
		idx    int
		hits   int
		weight int
	}
	var matched []scored

	for i, f := range c.features {
		hits := 0
		weight := 0
		longestHit := 0
		for _, kw := range f.Keywords {
			kw = strings.ToLower(kw)
			if !strings.Contains(utterance, kw) {
				continue
			}
			hits++
			runes := utf8.RuneCountInString(kw)
			if runes > longestHit {
				longestHit = runes
			}
			if runes > longKeywordRunes {
				weight += 2
			} else {
				weight++
			}
		}

		if hits >= 2 || (hits == 1 && longestHit > shortTokenRunes) {
			matched = append(matched, scored{idx: i, hits: hits, weight: weight})
		}
	}

	if len(matched) > maxSelected {
		// Stable sort keeps declaration order among equals, so the
		// result is deterministic for a given utterance and table.
		sort.SliceStable(matched, func(a, b int) bool {
			return matched[a].weight > matched[b].weight
		})
		matched = matched[:maxSelected]
		sort.Slice(matched, func(a, b int) bool { return matched[a].idx < matched[b].idx })
	}

	out := make([]Descriptor, 0, len(matched))
	for _, m := range matched {
		out = append(out, c.features[m.idx])
	}
	return out
}

// SelectPrompts returns the prompt fragments for the selected features.
func (c *Catalog) SelectPrompts(utterance string) []string {
	features := c.SelectFeatures(utterance)
	out := make([]string, 0, len(features))
	for _, f := range features {
		if p := strings.TrimSpace(f.Prompt); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SelectToolSchemas returns tool schemas for the selected features,
// skipping names already registered so tools are never declared twice
// in one request.
func (c *Catalog) SelectToolSchemas(utterance string, existing []string) []glm.ToolSchema {
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	var out []glm.ToolSchema
	for _, f := range c.SelectFeatures(utterance) {
		for _, def := range f.Schemas {
			if present[def.Name] {
				continue
			}
			present[def.Name] = true
			out = append(out, glm.NewToolSchema(def.Name, def.Description, normalizeParams(def.Parameters)))
		}
	}
	return out
}

// normalizeParams converts yaml's map[string]any values (which may
// contain map[string]any nested via interface keys) into plain JSON-able
// maps. yaml.v3 already produces map[string]interface{} for string keys,
// so this only walks nested values.
func normalizeParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeParams(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
