package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/duckmesh/sqlagent/internal/conversation"
	"github.com/duckmesh/sqlagent/internal/storage"
)

const contentType = "application/json"

// Store keeps one JSON transcript document per thread in an object store.
type Store struct {
	objects storage.ObjectStore
	prefix  string
}

func New(objects storage.ObjectStore, prefix string) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Store{objects: objects, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

func (s *Store) GetOrCreate(ctx context.Context, threadID string) ([]conversation.Message, error) {
	key, err := s.key(threadID)
	if err != nil {
		return nil, err
	}
	reader, err := s.objects.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		if err := s.write(ctx, key, []conversation.Message{}); err != nil {
			return nil, fmt.Errorf("create thread %q: %w", threadID, err)
		}
		return []conversation.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %q: %w", threadID, err)
	}
	defer func() { _ = reader.Close() }()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read thread %q: %w", threadID, err)
	}
	messages, err := conversation.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("load thread %q: %w", threadID, err)
	}
	return messages, nil
}

func (s *Store) Replace(ctx context.Context, threadID string, messages []conversation.Message) error {
	key, err := s.key(threadID)
	if err != nil {
		return err
	}
	if err := s.write(ctx, key, messages); err != nil {
		return fmt.Errorf("replace thread %q: %w", threadID, err)
	}
	return nil
}

// EvictIdle deletes thread documents last written before the cutoff. Bucket
// lifecycle rules can do the same without a running janitor.
func (s *Store) EvictIdle(ctx context.Context, before time.Time) (int, error) {
	objects, err := s.objects.List(ctx, storage.ThreadsDirectory(s.prefix)+"/")
	if err != nil {
		return 0, fmt.Errorf("list threads: %w", err)
	}
	evicted := 0
	for _, object := range objects {
		if _, ok := storage.ThreadIDFromKey(s.prefix, object.Key); !ok {
			continue
		}
		if !object.LastModified.Before(before) {
			continue
		}
		if err := s.objects.Delete(ctx, object.Key); err != nil {
			return evicted, fmt.Errorf("delete thread document %q: %w", object.Key, err)
		}
		evicted++
	}
	return evicted, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	checker, ok := s.objects.(conversation.HealthChecker)
	if !ok {
		return nil
	}
	return checker.HealthCheck(ctx)
}

func (s *Store) key(threadID string) (string, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", conversation.ErrThreadIDRequired
	}
	return storage.BuildThreadKey(s.prefix, threadID)
}

func (s *Store) write(ctx context.Context, key string, messages []conversation.Message) error {
	payload, err := conversation.Encode(messages)
	if err != nil {
		return err
	}
	_, err = s.objects.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: contentType})
	return err
}
