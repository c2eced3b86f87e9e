// Package tools defines the tools the model can call and dispatches
// tool calls against live Home Assistant state.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrenly/hearth/internal/glm"
	"github.com/wrenly/hearth/internal/homeassistant"
)

// HostServices is the slice of the Home Assistant client the tool
// handlers need. Device side effects flow through CallService only.
type HostServices interface {
	CallService(ctx context.Context, domain, service string, data map[string]any, target *homeassistant.ServiceTarget) error
	CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error)
}

// EntityResolver matches free-text device descriptions to entities.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, domain, nameHint string) (homeassistant.State, error)
}

// Vision describes an image and answers a question about it.
type Vision interface {
	AnalyzeImage(ctx context.Context, model, imageURL, prompt string) (string, error)
}

// Searcher runs a web search.
type Searcher interface {
	WebSearch(ctx context.Context, engine, query string) ([]glm.SearchResult, error)
}

// Summarizer condenses an entity's recent history into speech.
type Summarizer interface {
	Summarize(ctx context.Context, entity homeassistant.State, hours int) (string, error)
}

// Handler executes one tool call. The returned payload must be
// JSON-serializable; errors become failed tool results, never faults.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Deps carries the collaborators the built-in tools need. Nil fields
// disable the tools that depend on them.
type Deps struct {
	Services     HostServices
	Resolver     EntityResolver
	Vision       Vision
	VisionModel  string
	Search       Searcher
	SearchEngine string
	Summarizer   Summarizer
	Logger       *slog.Logger
	Now          func() time.Time
}

// Registry holds the available tool handlers. Tool schemas live in the
// feature catalog; the registry only answers "can this name run, and
// how". Registration happens once at startup, so no locking.
type Registry struct {
	deps     Deps
	handlers map[string]Handler
}

// NewRegistry creates a registry with the built-in tools registered.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Registry{
		deps:     deps,
		handlers: make(map[string]Handler),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register("control_device", r.handleControlDevice)
	r.Register("set_climate", r.handleSetClimate)
	r.Register("set_cover_position", r.handleSetCoverPosition)
	r.Register("media_command", r.handleMediaCommand)
	r.Register("start_timer", r.handleStartTimer)
	r.Register("analyze_camera", r.handleAnalyzeCamera)
	r.Register("web_search", r.handleWebSearch)
	r.Register("entity_history", r.handleEntityHistory)
}

// Register adds a handler under a tool name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Has reports whether a tool name can be executed.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Execute runs a tool by name with decoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return h(ctx, args)
}

// Argument accessors. Tool arguments arrive as decoded JSON, so
// numbers are float64 and everything is optional until checked.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return fallback
}

func floatArg(args map[string]any, key string) (float64, bool) {
	f, ok := args[key].(float64)
	return f, ok
}
