// Package session provides per-conversation message storage.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenly/hearth/internal/glm"
)

// Conversation holds the state of a single conversation. Messages grow
// by append only; truncation happens through Window at read time and
// the result is written back as a whole.
type Conversation struct {
	ID        string
	Messages  []glm.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store manages conversation sessions in process memory. Sessions do
// not survive a restart; the host owns durable state.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	maxHistory    int
}

// NewStore creates a session store. maxHistory bounds the number of
// non-system messages retained per conversation.
func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		maxHistory:    maxHistory,
	}
}

// MaxHistory returns the configured history bound.
func (s *Store) MaxHistory() int { return s.maxHistory }

// Get returns a copy of the conversation's messages and its ID. A new
// conversation ID is minted when id is empty; the session itself is
// created lazily on the first Put.
func (s *Store) Get(id string) (string, []glm.Message) {
	if id == "" {
		return uuid.NewString(), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return id, nil
	}
	out := make([]glm.Message, len(conv.Messages))
	copy(out, conv.Messages)
	return id, out
}

// Put stores the full message list for a conversation, windowing it
// first. Called only after a fully successful turn.
func (s *Store) Put(id string, messages []glm.Message) {
	windowed := Window(messages, s.maxHistory)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv, ok := s.conversations[id]
	if !ok {
		conv = &Conversation{ID: id, CreatedAt: now}
		s.conversations[id] = conv
	}
	conv.Messages = windowed
	conv.UpdatedAt = now
}

// Drop removes a conversation.
func (s *Store) Drop(id string) {
	s.mu.Lock()
	delete(s.conversations, id)
	s.mu.Unlock()
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Window truncates a message list to the system message plus the most
// recent max entries. The system message (always first when present)
// is never evicted; older non-system messages go first. The result
// length never exceeds max+1.
func Window(messages []glm.Message, max int) []glm.Message {
	if len(messages) == 0 || max <= 0 {
		return messages
	}

	var system *glm.Message
	rest := messages
	if messages[0].Role == "system" {
		system = &messages[0]
		rest = messages[1:]
	}

	if len(rest) > max {
		rest = trimOrphanTools(rest[len(rest)-max:])
	}

	if system == nil {
		out := make([]glm.Message, len(rest))
		copy(out, rest)
		return out
	}
	out := make([]glm.Message, 0, len(rest)+1)
	out = append(out, *system)
	out = append(out, rest...)
	return out
}

// Tail returns at most n of the most recent messages, keeping the
// system message at the front when one is present. Used to bound the
// per-iteration request independently of the history window.
func Tail(messages []glm.Message, n int) []glm.Message {
	if len(messages) <= n {
		return messages
	}
	if messages[0].Role == "system" {
		tail := trimOrphanTools(messages[len(messages)-(n-1):])
		out := make([]glm.Message, 0, len(tail)+1)
		out = append(out, messages[0])
		out = append(out, tail...)
		return out
	}
	return trimOrphanTools(messages[len(messages)-n:])
}

// trimOrphanTools drops leading tool messages. A tool message refers to
// the assistant tool-call message right before it; when a cut lands
// inside that group, the rest of the group goes too, so the window
// never starts with a reply to an evicted request.
func trimOrphanTools(messages []glm.Message) []glm.Message {
	for len(messages) > 0 && messages[0].Role == "tool" {
		messages = messages[1:]
	}
	return messages
}
