package conversation

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one persisted message. Turns are immutable once stored.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sender names used by history readers.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// HistoryEntry is the read model handed to history consumers.
type HistoryEntry struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry converts a turn into its history representation.
func (t Turn) Entry() HistoryEntry {
	sender := SenderUser
	if t.Role == RoleAssistant {
		sender = SenderAI
	}
	return HistoryEntry{Text: t.Text, Sender: sender, Timestamp: t.CreatedAt}
}
