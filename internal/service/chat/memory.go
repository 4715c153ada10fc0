package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/solace/backend/internal/model/conversation"
)

// MemoryStore keeps turns in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]conversation.Turn
	now   func() time.Time
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ RecentLister = (*MemoryStore)(nil)
	_ Eraser       = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: make(map[string][]conversation.Turn),
		now:   time.Now,
	}
}

func (s *MemoryStore) Append(_ context.Context, turn conversation.Turn) (conversation.Turn, error) {
	if err := validateTurn(turn); err != nil {
		return conversation.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.turns[turn.UserID]
	var latest time.Time
	if n := len(history); n > 0 {
		latest = history[n-1].CreatedAt
	}

	turn.ID = uuid.NewString()
	turn.CreatedAt = nextTimestamp(s.now().UTC(), latest)

	if history == nil {
		history = make([]conversation.Turn, 0, 16)
	}
	s.turns[turn.UserID] = append(history, turn)
	return turn, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]conversation.Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.turns[userID]
	copied := make([]conversation.Turn, len(history))
	copy(copied, history)
	return copied, nil
}

func (s *MemoryStore) Recent(_ context.Context, userID string, n int) ([]conversation.Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	if n <= 0 {
		return []conversation.Turn{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.turns[userID]
	if len(history) > n {
		history = history[len(history)-n:]
	}
	copied := make([]conversation.Turn, len(history))
	copy(copied, history)
	return copied, nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.turns[userID])
	delete(s.turns, userID)
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }
