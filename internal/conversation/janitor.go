package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/duckmesh/sqlagent/internal/observability"
)

type JanitorConfig struct {
	Backend  string
	IdleTTL  time.Duration
	Schedule string
}

// Janitor evicts threads that have been idle for longer than IdleTTL on a
// cron schedule.
type Janitor struct {
	evictor Evictor
	backend string
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

func NewJanitor(evictor Evictor, cfg JanitorConfig, logger *slog.Logger) (*Janitor, error) {
	if evictor == nil {
		return nil, fmt.Errorf("evictor is required")
	}
	if cfg.IdleTTL <= 0 {
		return nil, fmt.Errorf("idle ttl must be > 0")
	}
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule == "" {
		schedule = "@every 5m"
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		evictor: evictor,
		backend: cfg.Backend,
		ttl:     cfg.IdleTTL,
		logger:  logger,
		now:     time.Now,
		cron:    cron.New(),
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.started = true
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	started := j.started
	j.started = false
	j.mu.Unlock()
	if !started {
		return
	}
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		j.logger.Warn("janitor_stop_timeout")
	}
}

// RunOnce evicts every thread untouched since now minus the idle TTL.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.ttl)
	evicted, err := j.evictor.EvictIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict idle threads: %w", err)
	}
	observability.AddThreadsEvicted(j.backend, evicted)
	return evicted, nil
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	evicted, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "janitor_sweep_failed", slog.String("backend", j.backend), slog.Any("error", err))
		return
	}
	if evicted > 0 {
		j.logger.InfoContext(ctx, "janitor_threads_evicted", slog.String("backend", j.backend), slog.Int("count", evicted))
	}
}
