package conversation

import (
	"context"
	"errors"
	"time"
)

var ErrThreadIDRequired = errors.New("conversation: thread id is required")

// Store holds one ordered transcript per thread id.
type Store interface {
	// GetOrCreate returns the stored transcript, creating an empty one on
	// first reference.
	GetOrCreate(ctx context.Context, threadID string) ([]Message, error)
	// Replace overwrites the transcript wholesale.
	Replace(ctx context.Context, threadID string, messages []Message) error
}

// Evictor is implemented by backends that can drop idle threads.
type Evictor interface {
	EvictIdle(ctx context.Context, before time.Time) (int, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
