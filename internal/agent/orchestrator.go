// Package agent implements the conversation orchestration loop: prompt
// assembly, the bounded tool-call iteration, and fallback handling.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrenly/hearth/internal/catalog"
	"github.com/wrenly/hearth/internal/filter"
	"github.com/wrenly/hearth/internal/glm"
	"github.com/wrenly/hearth/internal/homeassistant"
	"github.com/wrenly/hearth/internal/session"
	"github.com/wrenly/hearth/internal/tools"
)

const (
	// iterationCeiling bounds the model calls per turn regardless of
	// configuration; a model that always wants tools stops here.
	iterationCeiling = 5

	// iterationTail is the most messages sent per model call,
	// independent of the stored history window.
	iterationTail = 10

	// failureLimit is how many consecutive tool failures trigger
	// fallback within one turn.
	failureLimit = 3
)

// errorSpeech is spoken when even the fallback agent cannot answer.
const errorSpeech = "抱歉，我现在无法处理您的请求，请稍后再试。"

// Completer is the model call the loop iterates on.
type Completer interface {
	Complete(ctx context.Context, req glm.ChatRequest) (*glm.ChatResponse, error)
}

// ToolDispatcher executes one model tool call.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call glm.ToolCall) tools.Result
}

// ServiceRunner handles explicit script/automation commands.
type ServiceRunner interface {
	Run(ctx context.Context, cmd tools.ServiceCommand) (string, error)
}

// FallbackAgent is the host's own conversation agent, consulted when
// orchestration fails.
type FallbackAgent interface {
	Converse(ctx context.Context, text, conversationID, language string) (*homeassistant.ConversationResult, error)
}

// Transcript archives turns for later review. Nil disables archiving.
type Transcript interface {
	Append(ctx context.Context, conversationID, role, content string) error
}

// Config tunes the loop.
type Config struct {
	ModelID       string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	MaxIterations int
	Cooldown      time.Duration
}

// Deps wires the orchestrator's collaborators. Model, Catalog,
// Dispatcher, and Sessions are required; the rest may be nil.
type Deps struct {
	Model      Completer
	Catalog    *catalog.Catalog
	Dispatcher ToolDispatcher
	Runner     ServiceRunner
	Fallback   FallbackAgent
	Sessions   *session.Store
	Transcript Transcript
	Context    ContextFunc
	Logger     *slog.Logger
}

// Request is one user turn.
type Request struct {
	Text           string
	ConversationID string
	Language       string
}

// Response is the speech result returned to the host. A response is
// always produced; failures surface as apologetic speech, never as an
// error the caller must handle.
type Response struct {
	Speech         string
	ConversationID string
	Fallback       bool
}

// Orchestrator runs the conversation state machine.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	cooldown *cooldownGate
	logger   *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 || cfg.MaxIterations > iterationCeiling {
		cfg.MaxIterations = iterationCeiling
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		cooldown: newCooldownGate(cfg.Cooldown),
		logger:   deps.Logger,
	}
}

// Converse processes one user turn and always returns speech.
func (o *Orchestrator) Converse(ctx context.Context, req Request) Response {
	convID, history := o.deps.Sessions.Get(req.ConversationID)

	o.logger.Info("turn started",
		"conversation_id", convID,
		"history", len(history),
	)

	// The cooldown spaces turns per conversation entity and applies to
	// every turn, explicit service commands included.
	if err := o.cooldown.Wait(ctx, convID); err != nil {
		o.logger.Warn("turn cancelled during cooldown", "conversation_id", convID)
		return Response{Speech: errorSpeech, ConversationID: convID}
	}

	// Explicit script/automation commands bypass the model entirely.
	if cmd, ok := tools.ParseServiceCommand(req.Text); ok && o.deps.Runner != nil {
		speech, err := o.deps.Runner.Run(ctx, cmd)
		if err != nil {
			o.logger.Warn("explicit service command failed",
				"domain", cmd.Domain,
				"name", cmd.Name,
				"error", err,
			)
			speech = fmt.Sprintf("执行失败：%v", err)
		}
		return Response{Speech: speech, ConversationID: convID}
	}

	speech, err := o.run(ctx, convID, history, req)
	if err == nil {
		return Response{Speech: speech, ConversationID: convID}
	}

	var terr *templateError
	if errors.As(err, &terr) {
		// Prompt rendering failure is a configuration problem; the
		// fallback agent cannot do better.
		o.logger.Error("system prompt render failed", "error", err)
		return Response{Speech: errorSpeech, ConversationID: convID}
	}

	o.logger.Warn("orchestration failed, falling back",
		"conversation_id", convID,
		"error", err,
	)
	return o.fallbackTurn(ctx, req, convID)
}

// run executes the tool-call iteration loop. Any panic below is turned
// into an error so a fault in a handler or codec becomes a fallback,
// never a crash with no speech.
func (o *Orchestrator) run(ctx context.Context, convID string, history []glm.Message, req Request) (speech string, err error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("orchestration panic", "panic", p)
			err = fmt.Errorf("orchestration panic: %v", p)
		}
	}()

	system, err := o.renderSystemPrompt(ctx, req.Text)
	if err != nil {
		return "", err
	}
	messages := assemble(system, history, req.Text, o.deps.Sessions.MaxHistory())

	var schemas []glm.ToolSchema
	if o.deps.Catalog != nil {
		schemas = o.deps.Catalog.SelectToolSchemas(req.Text, nil)
	}

	failures := 0
	final := ""
	done := false

	for i := 0; i < o.cfg.MaxIterations; i++ {
		resp, err := o.deps.Model.Complete(ctx, glm.ChatRequest{
			Model:       o.cfg.ModelID,
			Messages:    session.Tail(messages, iterationTail),
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
			TopP:        o.cfg.TopP,
			Tools:       schemas,
		})
		if err != nil {
			return "", fmt.Errorf("model call (iteration %d): %w", i, err)
		}

		reply := resp.First()
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			final = reply.Content
			done = true
			break
		}

		o.logger.Debug("model requested tools",
			"iteration", i,
			"calls", len(reply.ToolCalls),
		)

		for _, call := range reply.ToolCalls {
			result := o.deps.Dispatcher.Dispatch(ctx, call)
			if result.Success {
				failures = 0
			} else {
				failures++
			}
			messages = append(messages, result.Message())

			if failures >= failureLimit {
				return "", fmt.Errorf("%d consecutive tool failures", failures)
			}
		}
	}

	if !done {
		return "", fmt.Errorf("no final response after %d iterations", o.cfg.MaxIterations)
	}

	speech = filter.Speech(final)

	// History persists only on full success; a fallback turn must not
	// pollute the next turn's context.
	o.deps.Sessions.Put(convID, messages)
	o.archive(ctx, convID, req.Text, speech)

	o.logger.Info("turn completed",
		"conversation_id", convID,
		"messages", len(messages),
	)
	return speech, nil
}

// fallbackTurn delegates the whole utterance to the host agent.
func (o *Orchestrator) fallbackTurn(ctx context.Context, req Request, convID string) Response {
	if o.deps.Fallback == nil {
		return Response{Speech: errorSpeech, ConversationID: convID, Fallback: true}
	}

	result, err := o.deps.Fallback.Converse(ctx, req.Text, "", req.Language)
	if err != nil || result == nil {
		o.logger.Error("fallback agent failed", "error", err)
		return Response{Speech: errorSpeech, ConversationID: convID, Fallback: true}
	}
	return Response{Speech: result.Speech, ConversationID: convID, Fallback: true}
}

// archive records the user/assistant pair; archive failures are logged
// and ignored, the transcript is best effort.
func (o *Orchestrator) archive(ctx context.Context, convID, userText, speech string) {
	if o.deps.Transcript == nil {
		return
	}
	if err := o.deps.Transcript.Append(ctx, convID, "user", userText); err != nil {
		o.logger.Warn("transcript append failed", "error", err)
		return
	}
	if err := o.deps.Transcript.Append(ctx, convID, "assistant", speech); err != nil {
		o.logger.Warn("transcript append failed", "error", err)
	}
}

// assemble builds the turn's message list: a fresh system message,
// prior history with its stale system message dropped, and the new
// user utterance, windowed to the history bound.
func assemble(system string, history []glm.Message, userText string, maxHistory int) []glm.Message {
	if len(history) > 0 && history[0].Role == "system" {
		history = history[1:]
	}

	messages := make([]glm.Message, 0, len(history)+2)
	messages = append(messages, glm.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, glm.Message{Role: "user", Content: userText})

	return session.Window(messages, maxHistory)
}
