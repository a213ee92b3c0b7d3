package inmem

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/duckmesh/sqlagent/internal/conversation"
)

type thread struct {
	messages  []conversation.Message
	updatedAt time.Time
}

// Store keeps transcripts in process memory. Reads and writes copy, so no
// caller holds a reference into stored state.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*thread
	now     func() time.Time
}

func New() *Store {
	return &Store{threads: make(map[string]*thread), now: time.Now}
}

func (s *Store) GetOrCreate(_ context.Context, threadID string) ([]conversation.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, conversation.ErrThreadIDRequired
	}
	s.mu.RLock()
	existing, ok := s.threads[threadID]
	if ok {
		messages := conversation.Clone(existing.messages)
		s.mu.RUnlock()
		return messages, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok = s.threads[threadID]
	if !ok {
		existing = &thread{messages: []conversation.Message{}, updatedAt: s.now()}
		s.threads[threadID] = existing
	}
	return conversation.Clone(existing.messages), nil
}

func (s *Store) Replace(_ context.Context, threadID string, messages []conversation.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return conversation.ErrThreadIDRequired
	}
	copied := conversation.Clone(messages)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = &thread{messages: copied, updatedAt: s.now()}
	return nil
}

// EvictIdle drops threads not replaced or created since before.
func (s *Store) EvictIdle(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for threadID, t := range s.threads {
		if t.updatedAt.Before(before) {
			delete(s.threads, threadID)
			evicted++
		}
	}
	return evicted, nil
}

func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Len reports the number of live threads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
