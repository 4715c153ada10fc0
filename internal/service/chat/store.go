package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zhouzirui/solace/backend/internal/model/conversation"
)

var (
	ErrUserRequired = errors.New("user id is required")
	ErrInvalidRole  = errors.New("turn role must be user or assistant")
)

// Store persists conversation turns per user.
type Store interface {
	// Append stores turn, assigning its ID and CreatedAt, and returns the stored copy.
	Append(ctx context.Context, turn conversation.Turn) (conversation.Turn, error)
	// ListByUser returns every turn of userID, oldest first.
	ListByUser(ctx context.Context, userID string) ([]conversation.Turn, error)
}

// RecentLister returns the last n turns of a user, oldest first.
type RecentLister interface {
	Recent(ctx context.Context, userID string, n int) ([]conversation.Turn, error)
}

// Eraser removes all turns belonging to a user.
type Eraser interface {
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

func validateTurn(turn conversation.Turn) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return ErrUserRequired
	}
	if !turn.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// nextTimestamp keeps CreatedAt non-decreasing within a user's history
// even if the wall clock steps backwards.
func nextTimestamp(now, latest time.Time) time.Time {
	if now.Before(latest) {
		return latest
	}
	return now
}
