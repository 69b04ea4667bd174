// Package session persists conversation history in PostgreSQL.
// The store is optional: when Postgres is not configured the service
// runs stateless and history comes only from the request context.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reppyfit/reppy/internal/log"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a user's conversation.
type Message struct {
	ID        string
	UserID    string
	Role      string
	Content   string
	PromptKey string
	CreatedAt time.Time
}

// DB is the database surface the store needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads and writes conversation history.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a Store backed by the given database.
func NewStore(db DB, logger log.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &Store{db: db, logger: logger}, nil
}

// Append stores one message at the end of the user's history.
func (s *Store) Append(ctx context.Context, msg Message) error {
	if msg.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("invalid role %q", msg.Role)
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO session_messages (user_id, role, content, prompt_key)
		 VALUES ($1, $2, $3, $4)`,
		msg.UserID, msg.Role, msg.Content, msg.PromptKey,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns the user's most recent messages, oldest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, role, content, prompt_key, created_at
		 FROM (
		     SELECT id, user_id, role, content, prompt_key, created_at
		     FROM session_messages
		     WHERE user_id = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.PromptKey, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return messages, nil
}

// Clear removes all history for a user.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM session_messages WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.logger.Debug("session history cleared", "user_id", userID, "deleted", tag.RowsAffected())
	return nil
}

// ConversationContext shapes history the way prompt templates expect
// the conversation_history variable: a list of {role, content} turns.
func ConversationContext(messages []Message) []map[string]any {
	history := make([]map[string]any, len(messages))
	for i, m := range messages {
		history[i] = map[string]any{
			"role":    m.Role,
			"content": m.Content,
		}
	}
	return history
}
