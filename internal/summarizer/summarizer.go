// Package summarizer condenses an entity's recent state history into a
// short spoken summary via one model round trip.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wrenly/hearth/internal/glm"
	"github.com/wrenly/hearth/internal/homeassistant"
)

// maxHistoryEntries bounds how much raw history is pasted into the
// prompt; beyond this the oldest entries are dropped.
const maxHistoryEntries = 50

// HistorySource provides entity state history. Implemented by the HA
// REST client.
type HistorySource interface {
	History(ctx context.Context, entityID string, start, end time.Time) ([]homeassistant.State, error)
}

// Completer is the single model call the summarizer needs.
type Completer interface {
	Complete(ctx context.Context, req glm.ChatRequest) (*glm.ChatResponse, error)
}

// Service fetches history and summarizes it.
type Service struct {
	history HistorySource
	model   Completer
	modelID string
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a summarizer service.
func New(history HistorySource, model Completer, modelID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		history: history,
		model:   model,
		modelID: modelID,
		logger:  logger,
		now:     time.Now,
	}
}

// Summarize fetches the entity's last `hours` hours of state changes
// and returns a one-or-two sentence summary. Entities with no changes
// short-circuit without a model call.
func (s *Service) Summarize(ctx context.Context, entity homeassistant.State, hours int) (string, error) {
	if hours <= 0 {
		hours = 24
	}
	end := s.now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	states, err := s.history.History(ctx, entity.EntityID, start, end)
	if err != nil {
		return "", fmt.Errorf("fetch history for %s: %w", entity.EntityID, err)
	}
	if len(states) == 0 {
		return fmt.Sprintf("%s在最近%d小时内没有状态变化", entity.FriendlyName(), hours), nil
	}
	if len(states) > maxHistoryEntries {
		states = states[len(states)-maxHistoryEntries:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "以下是%s最近%d小时的状态记录（时间 状态）：\n", entity.FriendlyName(), hours)
	for _, st := range states {
		fmt.Fprintf(&b, "%s %s\n", st.LastChanged.Local().Format("01-02 15:04"), st.State)
	}
	b.WriteString("请用一两句中文总结变化趋势，不要逐条复述。")

	s.logger.Debug("summarizing history",
		"entity_id", entity.EntityID,
		"hours", hours,
		"entries", len(states),
	)

	resp, err := s.model.Complete(ctx, glm.ChatRequest{
		Model: s.modelID,
		Messages: []glm.Message{
			{Role: "user", Content: b.String()},
		},
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", entity.EntityID, err)
	}

	content := strings.TrimSpace(resp.First().Content)
	if content == "" {
		return "", fmt.Errorf("summarize %s: empty model response", entity.EntityID)
	}
	return content, nil
}
