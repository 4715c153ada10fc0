package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/zhouzirui/solace/backend/internal/model/conversation"
)

// SQLiteStore persists turns in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ Store        = (*SQLiteStore)(nil)
	_ RecentLister = (*SQLiteStore)(nil)
	_ Eraser       = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS turns (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        user_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        text TEXT NOT NULL,
        created_at INTEGER NOT NULL -- unix nanoseconds, UTC
    );

    CREATE INDEX IF NOT EXISTS idx_turns_user_order ON turns (user_id, created_at, seq);
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, turn conversation.Turn) (conversation.Turn, error) {
	if err := validateTurn(turn); err != nil {
		return conversation.Turn{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(created_at) FROM turns WHERE user_id = ?", turn.UserID).Scan(&latest); err != nil {
		return conversation.Turn{}, fmt.Errorf("failed to read latest turn: %w", err)
	}

	var latestAt time.Time
	if latest.Valid {
		latestAt = time.Unix(0, latest.Int64).UTC()
	}
	turn.ID = uuid.NewString()
	turn.CreatedAt = nextTimestamp(s.now().UTC(), latestAt)

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO turns (id, user_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, turn.ID, turn.UserID, string(turn.Role), turn.Text, turn.CreatedAt.UnixNano()); err != nil {
		return conversation.Turn{}, fmt.Errorf("failed to execute turn insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return conversation.Turn{}, fmt.Errorf("failed to commit turn: %w", err)
	}
	return turn, nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]conversation.Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}

	query := `
        SELECT id, user_id, role, text, created_at
        FROM turns
        WHERE user_id = ?
        ORDER BY created_at ASC, seq ASC
    `
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

func (s *SQLiteStore) Recent(ctx context.Context, userID string, n int) ([]conversation.Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	if n <= 0 {
		return []conversation.Turn{}, nil
	}

	query := `
        SELECT id, user_id, role, text, created_at
        FROM turns
        WHERE user_id = ?
        ORDER BY created_at DESC, seq DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *SQLiteStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserRequired
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted turns: %w", err)
	}
	return int(n), nil
}

func scanTurns(rows *sql.Rows) ([]conversation.Turn, error) {
	turns := make([]conversation.Turn, 0, 16)
	for rows.Next() {
		var (
			turn      conversation.Turn
			role      string
			createdAt int64
		)
		if err := rows.Scan(&turn.ID, &turn.UserID, &role, &turn.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.Role = conversation.Role(role)
		turn.CreatedAt = time.Unix(0, createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}
