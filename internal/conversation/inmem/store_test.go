package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/duckmesh/sqlagent/internal/conversation"
)

func TestGetOrCreateReturnsEmptyTranscript(t *testing.T) {
	store := New()
	messages, err := store.GetOrCreate(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if messages == nil || len(messages) != 0 {
		t.Fatalf("GetOrCreate() = %#v, want empty", messages)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
}

func TestReplaceThenGetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	input := []conversation.Message{conversation.SystemMessage("sys"), conversation.UserMessage("q")}
	if err := store.Replace(ctx, "t-1", input); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	input[1].Content = "mutated after replace"

	got, err := store.GetOrCreate(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(got) != 2 || got[1].Content != "q" {
		t.Fatalf("GetOrCreate() = %+v", got)
	}
	got[0].Content = "mutated after read"
	again, _ := store.GetOrCreate(ctx, "t-1")
	if again[0].Content != "sys" {
		t.Fatalf("stored transcript mutated through read copy: %q", again[0].Content)
	}
}

func TestRejectsBlankThreadID(t *testing.T) {
	store := New()
	if _, err := store.GetOrCreate(context.Background(), " "); !errors.Is(err, conversation.ErrThreadIDRequired) {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := store.Replace(context.Background(), "", nil); !errors.Is(err, conversation.ErrThreadIDRequired) {
		t.Fatalf("Replace() error = %v", err)
	}
}

func TestEvictIdleDropsOnlyStaleThreads(t *testing.T) {
	store := New()
	ctx := context.Background()
	clock := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	_, _ = store.GetOrCreate(ctx, "old")
	clock = clock.Add(2 * time.Hour)
	_ = store.Replace(ctx, "fresh", []conversation.Message{conversation.UserMessage("q")})

	evicted, err := store.EvictIdle(ctx, clock.Add(-time.Hour))
	if err != nil {
		t.Fatalf("EvictIdle() error = %v", err)
	}
	if evicted != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", evicted)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	got, _ := store.GetOrCreate(ctx, "fresh")
	if len(got) != 1 {
		t.Fatalf("fresh thread lost: %+v", got)
	}
}

func TestConcurrentThreadsAreIndependent(t *testing.T) {
	store := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			threadID := fmt.Sprintf("t-%d", i)
			messages, err := store.GetOrCreate(ctx, threadID)
			if err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
				return
			}
			messages = append(messages, conversation.UserMessage(threadID))
			if err := store.Replace(ctx, threadID, messages); err != nil {
				t.Errorf("Replace() error = %v", err)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 32; i++ {
		threadID := fmt.Sprintf("t-%d", i)
		got, _ := store.GetOrCreate(ctx, threadID)
		if len(got) != 1 || got[0].Content != threadID {
			t.Fatalf("thread %s = %+v", threadID, got)
		}
	}
}
