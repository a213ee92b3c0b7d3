package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/duckmesh/sqlagent/internal/conversation"
)

// Store persists one JSONB transcript row per thread in conversation_thread.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping conversation db: %w", err)
	}
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, threadID string) ([]conversation.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, conversation.ErrThreadIDRequired
	}
	query := `
INSERT INTO conversation_thread (thread_id, messages, message_count)
VALUES ($1, '[]'::jsonb, 0)
ON CONFLICT (thread_id)
DO UPDATE SET thread_id = conversation_thread.thread_id
RETURNING messages`
	var payload []byte
	if err := s.db.QueryRowContext(ctx, query, threadID).Scan(&payload); err != nil {
		return nil, fmt.Errorf("get or create thread %q: %w", threadID, err)
	}
	messages, err := conversation.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("load thread %q: %w", threadID, err)
	}
	return messages, nil
}

func (s *Store) Replace(ctx context.Context, threadID string, messages []conversation.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return conversation.ErrThreadIDRequired
	}
	payload, err := conversation.Encode(messages)
	if err != nil {
		return err
	}
	query := `
INSERT INTO conversation_thread (thread_id, messages, message_count)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (thread_id)
DO UPDATE SET messages = EXCLUDED.messages, message_count = EXCLUDED.message_count, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, query, threadID, string(payload), len(messages)); err != nil {
		return fmt.Errorf("replace thread %q: %w", threadID, err)
	}
	return nil
}

func (s *Store) EvictIdle(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM conversation_thread
WHERE updated_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("evict idle threads: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evict idle threads rows affected: %w", err)
	}
	return int(affected), nil
}
