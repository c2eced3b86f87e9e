package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wrenly/hearth/internal/glm"
)

// Executor runs named tools. Implemented by Registry; tests substitute
// fakes.
type Executor interface {
	Has(name string) bool
	Execute(ctx context.Context, name string, args map[string]any) (any, error)
}

// Result is the outcome of one tool call. Failures carry a
// human-readable message for the model; they are ordinary values, not
// errors, so one failing call never aborts the rest of the turn.
type Result struct {
	ToolCallID string
	Name       string
	Success    bool
	Payload    any
	Error      string
}

// Message converts the result into the tool message fed back to the
// model, correlated by tool call ID.
func (r Result) Message() glm.Message {
	body := map[string]any{"success": r.Success}
	if r.Success {
		body["result"] = r.Payload
	} else {
		body["error"] = r.Error
	}
	content, err := json.Marshal(body)
	if err != nil {
		content = []byte(`{"success":false,"error":"unserializable tool result"}`)
	}
	return glm.Message{
		Role:       "tool",
		Content:    string(content),
		ToolCallID: r.ToolCallID,
	}
}

// Dispatcher turns model tool calls into executed results.
type Dispatcher struct {
	executor Executor
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over an executor.
func NewDispatcher(executor Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{executor: executor, logger: logger}
}

// Dispatch runs a single tool call through argument validation,
// execution, and result shaping. Handler panics are contained here;
// the orchestrator must always get a Result back.
func (d *Dispatcher) Dispatch(ctx context.Context, call glm.ToolCall) (res Result) {
	res = Result{ToolCallID: call.ID, Name: call.Function.Name}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool handler panicked",
				"tool", res.Name,
				"panic", p,
			)
			res.Success = false
			res.Payload = nil
			res.Error = fmt.Sprintf("internal error running %s", res.Name)
		}
	}()

	if res.Name == "" {
		res.Error = "tool call has no function name"
		return res
	}

	args, err := decodeArgs(call.Function.Arguments)
	if err != nil {
		res.Error = fmt.Sprintf("invalid arguments for %s: %v", res.Name, err)
		return res
	}

	if !d.executor.Has(res.Name) {
		res.Error = fmt.Sprintf("无法处理工具调用: %s", res.Name)
		return res
	}

	payload, err := d.executor.Execute(ctx, res.Name, args)
	if err != nil {
		d.logger.Warn("tool call failed",
			"tool", res.Name,
			"error", err,
		)
		res.Error = err.Error()
		return res
	}

	d.logger.Debug("tool call succeeded", "tool", res.Name)
	res.Success = true
	res.Payload = payload
	return res
}

// DispatchAll runs every tool call in order, continuing past failures.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []glm.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.Dispatch(ctx, call))
	}
	return results
}

// decodeArgs parses the raw arguments, which must be a JSON object.
// Absent or null arguments decode to an empty map.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
