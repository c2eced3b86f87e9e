package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/wrenly/hearth/internal/catalog"
	"github.com/wrenly/hearth/internal/filter"
	"github.com/wrenly/hearth/internal/glm"
	"github.com/wrenly/hearth/internal/homeassistant"
	"github.com/wrenly/hearth/internal/resolve"
	"github.com/wrenly/hearth/internal/session"
	"github.com/wrenly/hearth/internal/tools"
)

// chatResponse builds a ChatResponse carrying one message.
func chatResponse(t *testing.T, msg glm.Message) *glm.ChatResponse {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": msg}},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	resp := &glm.ChatResponse{}
	if err := json.Unmarshal(raw, resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func textMsg(content string) glm.Message {
	return glm.Message{Role: "assistant", Content: content}
}

func tcall(id, name, args string) glm.ToolCall {
	var c glm.ToolCall
	c.ID = id
	c.Type = "function"
	c.Function.Name = name
	c.Function.Arguments = json.RawMessage(args)
	return c
}

func toolMsg(calls ...glm.ToolCall) glm.Message {
	return glm.Message{Role: "assistant", ToolCalls: calls}
}

// scriptedModel returns canned responses in order, repeating the last
// one when the script runs out.
type scriptedModel struct {
	t         *testing.T
	responses []glm.Message
	err       error
	calls     int
	requests  []glm.ChatRequest
}

func (m *scriptedModel) Complete(_ context.Context, req glm.ChatRequest) (*glm.ChatResponse, error) {
	m.calls++
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return chatResponse(m.t, m.responses[idx]), nil
}

// scriptedDispatcher pops outcomes per call; missing outcomes succeed.
type scriptedDispatcher struct {
	outcomes []bool
	calls    []glm.ToolCall
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, call glm.ToolCall) tools.Result {
	d.calls = append(d.calls, call)
	ok := true
	if len(d.outcomes) > 0 {
		ok = d.outcomes[0]
		d.outcomes = d.outcomes[1:]
	}
	res := tools.Result{ToolCallID: call.ID, Name: call.Function.Name, Success: ok}
	if ok {
		res.Payload = "done"
	} else {
		res.Error = "设备不可用"
	}
	return res
}

type fakeFallback struct {
	called int
	speech string
	err    error
}

func (f *fakeFallback) Converse(context.Context, string, string, string) (*homeassistant.ConversationResult, error) {
	f.called++
	if f.err != nil {
		return nil, f.err
	}
	return &homeassistant.ConversationResult{Speech: f.speech}, nil
}

type fakeRunner struct {
	called int
	cmd    tools.ServiceCommand
}

func (f *fakeRunner) Run(_ context.Context, cmd tools.ServiceCommand) (string, error) {
	f.called++
	f.cmd = cmd
	return "已执行脚本" + cmd.Name, nil
}

func mustCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New()
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

func newOrchestrator(t *testing.T, model Completer, dispatcher ToolDispatcher, fallback FallbackAgent) (*Orchestrator, *session.Store) {
	t.Helper()
	sessions := session.NewStore(20)
	o := New(Config{ModelID: "glm-4", MaxIterations: 5}, Deps{
		Model:      model,
		Catalog:    mustCatalog(t),
		Dispatcher: dispatcher,
		Fallback:   fallback,
		Sessions:   sessions,
	})
	return o, sessions
}

func TestSimpleTurnNoTools(t *testing.T) {
	model := &scriptedModel{t: t, responses: []glm.Message{textMsg("现在客厅温度是22度。")}}
	o, sessions := newOrchestrator(t, model, &scriptedDispatcher{}, nil)

	resp := o.Converse(context.Background(), Request{Text: "客厅多少度"})

	if resp.Speech != "现在客厅温度是22度。" {
		t.Errorf("speech = %q", resp.Speech)
	}
	if resp.Fallback {
		t.Error("unexpected fallback")
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1", model.calls)
	}

	// History stored: system + user + assistant.
	_, history := sessions.Get(resp.ConversationID)
	if len(history) != 3 || history[0].Role != "system" {
		t.Errorf("stored history = %d messages", len(history))
	}
}

func TestServiceShortcutBypassesModel(t *testing.T) {
	model := &scriptedModel{t: t, responses: []glm.Message{textMsg("unused")}}
	runner := &fakeRunner{}
	sessions := session.NewStore(20)
	o := New(Config{ModelID: "glm-4"}, Deps{
		Model:      model,
		Catalog:    mustCatalog(t),
		Dispatcher: &scriptedDispatcher{},
		Runner:     runner,
		Sessions:   sessions,
	})

	resp := o.Converse(context.Background(), Request{Text: "执行回家脚本"})

	if runner.called != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.called)
	}
	if runner.cmd.Domain != "script" || runner.cmd.Name != "回家" {
		t.Errorf("command = %+v", runner.cmd)
	}
	if model.calls != 0 {
		t.Errorf("model calls = %d, want 0", model.calls)
	}
	if !strings.Contains(resp.Speech, "回家") {
		t.Errorf("speech = %q", resp.Speech)
	}
}

func TestServiceShortcutRespectsCooldown(t *testing.T) {
	runner := &fakeRunner{}
	o := New(Config{ModelID: "glm-4", Cooldown: 50 * time.Millisecond}, Deps{
		Model:      &scriptedModel{t: t, responses: []glm.Message{textMsg("unused")}},
		Catalog:    mustCatalog(t),
		Dispatcher: &scriptedDispatcher{},
		Runner:     runner,
		Sessions:   session.NewStore(20),
	})

	// Both turns reuse the conversation ID, so the second must wait out
	// the cooldown even though it never reaches the model.
	first := o.Converse(context.Background(), Request{Text: "执行回家脚本"})

	start := time.Now()
	o.Converse(context.Background(), Request{
		Text:           "执行晚安脚本",
		ConversationID: first.ConversationID,
	})
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second shortcut turn ran after %v, want >=40ms cooldown", elapsed)
	}
	if runner.called != 2 {
		t.Errorf("runner calls = %d, want 2", runner.called)
	}
}

func TestIterationCapStopsToolHungryModel(t *testing.T) {
	// The model asks for a tool on every response.
	model := &scriptedModel{t: t, responses: []glm.Message{
		toolMsg(tcall("c1", "control_device", `{"description":"灯","action":"toggle"}`)),
	}}
	fallback := &fakeFallback{speech: "好的"}
	o, _ := newOrchestrator(t, model, &scriptedDispatcher{}, fallback)

	resp := o.Converse(context.Background(), Request{Text: "随便弄一下灯"})

	if model.calls != 5 {
		t.Errorf("model calls = %d, want exactly 5", model.calls)
	}
	if !resp.Fallback {
		t.Error("expected fallback after iteration cap")
	}
	if fallback.called != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.called)
	}
}

func TestThreeConsecutiveFailuresTriggerFallback(t *testing.T) {
	model := &scriptedModel{t: t, responses: []glm.Message{
		toolMsg(
			tcall("c1", "control_device", `{}`),
			tcall("c2", "control_device", `{}`),
			tcall("c3", "control_device", `{}`),
		),
	}}
	dispatcher := &scriptedDispatcher{outcomes: []bool{false, false, false}}
	fallback := &fakeFallback{speech: "我来帮您"}
	o, sessions := newOrchestrator(t, model, dispatcher, fallback)

	resp := o.Converse(context.Background(), Request{Text: "打开所有灯"})

	if !resp.Fallback || resp.Speech != "我来帮您" {
		t.Errorf("response = %+v", resp)
	}
	if fallback.called != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.called)
	}
	// Failed turns must not persist history.
	_, history := sessions.Get(resp.ConversationID)
	if len(history) != 0 {
		t.Errorf("stored history = %d messages, want 0", len(history))
	}
}

func TestTwoFailuresThenSuccessContinues(t *testing.T) {
	model := &scriptedModel{t: t, responses: []glm.Message{
		toolMsg(
			tcall("c1", "control_device", `{}`),
			tcall("c2", "control_device", `{}`),
			tcall("c3", "control_device", `{}`),
		),
		textMsg("第三次成功了。"),
	}}
	dispatcher := &scriptedDispatcher{outcomes: []bool{false, false, true}}
	fallback := &fakeFallback{speech: "unused"}
	o, _ := newOrchestrator(t, model, dispatcher, fallback)

	resp := o.Converse(context.Background(), Request{Text: "打开所有灯"})

	if resp.Fallback {
		t.Fatal("unexpected fallback")
	}
	if fallback.called != 0 {
		t.Errorf("fallback calls = %d, want 0", fallback.called)
	}
	if resp.Speech != "第三次成功了。" {
		t.Errorf("speech = %q", resp.Speech)
	}
}

func TestModelErrorFallsBack(t *testing.T) {
	model := &scriptedModel{t: t, err: fmt.Errorf("connection refused")}
	fallback := &fakeFallback{err: fmt.Errorf("also down")}
	o, _ := newOrchestrator(t, model, &scriptedDispatcher{}, fallback)

	resp := o.Converse(context.Background(), Request{Text: "你好"})

	if !resp.Fallback {
		t.Error("expected fallback")
	}
	if resp.Speech != errorSpeech {
		t.Errorf("speech = %q, want generic apology", resp.Speech)
	}
}

func TestContextFailureIsTerminalNotFallback(t *testing.T) {
	model := &scriptedModel{t: t, responses: []glm.Message{textMsg("unused")}}
	fallback := &fakeFallback{speech: "unused"}
	sessions := session.NewStore(20)
	o := New(Config{ModelID: "glm-4"}, Deps{
		Model:      model,
		Catalog:    mustCatalog(t),
		Dispatcher: &scriptedDispatcher{},
		Fallback:   fallback,
		Sessions:   sessions,
		Context: func(context.Context) (PromptContext, error) {
			return PromptContext{}, fmt.Errorf("registry offline")
		},
	})

	resp := o.Converse(context.Background(), Request{Text: "你好"})

	if resp.Speech != errorSpeech {
		t.Errorf("speech = %q", resp.Speech)
	}
	if fallback.called != 0 {
		t.Errorf("fallback calls = %d, want 0 for a terminal prompt failure", fallback.called)
	}
}

func TestFinalContentIsFiltered(t *testing.T) {
	model := &scriptedModel{t: t, responses: []glm.Message{
		textMsg("```python\nimport os\n```"),
	}}
	o, _ := newOrchestrator(t, model, &scriptedDispatcher{}, nil)

	resp := o.Converse(context.Background(), Request{Text: "写段代码"})

	if resp.Speech != filter.Unsupported {
		t.Errorf("speech = %q, want the fixed fallback message", resp.Speech)
	}
}

func TestIterationRequestsAreBounded(t *testing.T) {
	sessions := session.NewStore(20)
	// Preload a long history.
	var history []glm.Message
	history = append(history, glm.Message{Role: "system", Content: "old"})
	for i := 0; i < 18; i++ {
		history = append(history, glm.Message{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	sessions.Put("c1", history)

	model := &scriptedModel{t: t, responses: []glm.Message{textMsg("好的")}}
	o := New(Config{ModelID: "glm-4"}, Deps{
		Model:      model,
		Catalog:    mustCatalog(t),
		Dispatcher: &scriptedDispatcher{},
		Sessions:   sessions,
	})

	o.Converse(context.Background(), Request{Text: "你好", ConversationID: "c1"})

	if len(model.requests) != 1 {
		t.Fatalf("model calls = %d", len(model.requests))
	}
	sent := model.requests[0].Messages
	if len(sent) > 10 {
		t.Errorf("sent %d messages, want <= 10", len(sent))
	}
	if sent[0].Role != "system" {
		t.Errorf("first sent message role = %q", sent[0].Role)
	}
}

// End-to-end through the real registry and dispatcher.

type e2eServices struct {
	calls []struct {
		domain, service string
		target          *homeassistant.ServiceTarget
	}
}

func (s *e2eServices) CallService(_ context.Context, domain, service string, _ map[string]any, target *homeassistant.ServiceTarget) error {
	s.calls = append(s.calls, struct {
		domain, service string
		target          *homeassistant.ServiceTarget
	}{domain, service, target})
	return nil
}

func (s *e2eServices) CameraSnapshot(context.Context, string) ([]byte, string, error) {
	return nil, "", fmt.Errorf("no camera")
}

type e2eResolver struct {
	entities map[string]homeassistant.State
}

func (r *e2eResolver) ResolveEntity(_ context.Context, domain, hint string) (homeassistant.State, error) {
	s, ok := r.entities[domain]
	if !ok {
		return homeassistant.State{}, &resolve.NotFoundError{Domain: domain, Hint: hint}
	}
	return s, nil
}

func TestEndToEndTurnOnLight(t *testing.T) {
	services := &e2eServices{}
	registry := tools.NewRegistry(tools.Deps{
		Services: services,
		Resolver: &e2eResolver{entities: map[string]homeassistant.State{
			"light": {
				EntityID:   "light.living_room",
				State:      "off",
				Attributes: map[string]any{"friendly_name": "客厅的灯"},
			},
		}},
		Now: time.Now,
	})

	model := &scriptedModel{t: t, responses: []glm.Message{
		toolMsg(tcall("c1", "control_device", `{"description":"客厅的灯","domain":"light","action":"turn_on"}`)),
		textMsg("已为您打开客厅的灯。"),
	}}

	sessions := session.NewStore(20)
	o := New(Config{ModelID: "glm-4", MaxIterations: 3}, Deps{
		Model:      model,
		Catalog:    mustCatalog(t),
		Dispatcher: tools.NewDispatcher(registry, nil),
		Sessions:   sessions,
	})

	resp := o.Converse(context.Background(), Request{Text: "打开客厅的灯"})

	if len(services.calls) != 1 {
		t.Fatalf("service calls = %d, want exactly 1", len(services.calls))
	}
	call := services.calls[0]
	if call.domain != "light" || call.service != "turn_on" {
		t.Errorf("called %s.%s", call.domain, call.service)
	}
	if call.target.EntityID[0] != "light.living_room" {
		t.Errorf("target = %v", call.target.EntityID)
	}
	if !strings.Contains(resp.Speech, "客厅的灯") {
		t.Errorf("speech = %q", resp.Speech)
	}
	if resp.Fallback {
		t.Error("unexpected fallback")
	}
}

func TestEndToEndEntityNotFound(t *testing.T) {
	services := &e2eServices{}
	registry := tools.NewRegistry(tools.Deps{
		Services: services,
		Resolver: &e2eResolver{entities: map[string]homeassistant.State{}},
		Now:      time.Now,
	})

	model := &scriptedModel{t: t, responses: []glm.Message{
		toolMsg(tcall("c1", "control_device", `{"description":"浴室灯","domain":"light","action":"turn_on"}`)),
		textMsg("没有找到浴室灯。"),
	}}

	sessions := session.NewStore(20)
	o := New(Config{ModelID: "glm-4", MaxIterations: 3}, Deps{
		Model:      model,
		Catalog:    mustCatalog(t),
		Dispatcher: tools.NewDispatcher(registry, nil),
		Sessions:   sessions,
	})

	resp := o.Converse(context.Background(), Request{Text: "打开浴室灯"})

	if len(services.calls) != 0 {
		t.Errorf("service calls = %d, want 0", len(services.calls))
	}
	if !strings.Contains(resp.Speech, "没有找到") {
		t.Errorf("speech = %q", resp.Speech)
	}

	// The failed tool result went back to the model as a tool message.
	if len(model.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.requests))
	}
	last := model.requests[1].Messages
	toolSeen := false
	for _, m := range last {
		if m.Role == "tool" && strings.Contains(m.Content, "found") {
			toolSeen = true
		}
	}
	if !toolSeen {
		t.Error("failed tool result not fed back to the model")
	}
}
