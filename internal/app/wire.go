package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/config"
	"github.com/duckmesh/sqlagent/internal/conversation"
	"github.com/duckmesh/sqlagent/internal/conversation/inmem"
	"github.com/duckmesh/sqlagent/internal/conversation/objectstore"
	convpostgres "github.com/duckmesh/sqlagent/internal/conversation/postgres"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/sqldb"
	s3store "github.com/duckmesh/sqlagent/internal/storage/s3"
)

// Runtime holds everything a binary needs to answer queries.
type Runtime struct {
	DB      *sqldb.DB
	Store   conversation.Store
	Model   llm.Client
	Agent   *agent.Agent
	Janitor *conversation.Janitor
	Objects *s3store.Store

	logger  *slog.Logger
	closers []func() error
}

type Options struct {
	// Model replaces the configured OpenAI client when set.
	Model llm.Client
}

// Build opens the database, the conversation store and the model client and
// assembles the agent. The janitor is started when an idle TTL is set.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	datasets, err := sqldb.ParseDatasets(cfg.Database.Datasets)
	if err != nil {
		return nil, err
	}
	if len(datasets) > 0 || cfg.Conversation.Backend == config.ConversationBackendObjectStore {
		if err := rt.openObjects(ctx, cfg); err != nil {
			return nil, err
		}
	}

	db, err := openDatabase(ctx, cfg, datasets, rt.Objects)
	if err != nil {
		return nil, err
	}
	rt.DB = db
	rt.closers = append(rt.closers, db.Close)

	if err := rt.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	rt.Model = opts.Model
	if rt.Model == nil {
		model, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
			MaxRetries:  cfg.AI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize model client: %w", err)
		}
		rt.Model = model
	}

	rt.Agent, err = agent.New(rt.DB, rt.Store, rt.Model, agent.Config{
		MaxIterations:   cfg.Agent.MaxIterations,
		MaxEmptyReplies: cfg.Agent.MaxEmptyReplies,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize agent: %w", err)
	}

	if cfg.Conversation.IdleTTL > 0 {
		evictor, ok := rt.Store.(conversation.Evictor)
		if !ok {
			return nil, fmt.Errorf("conversation backend %q does not support idle eviction", cfg.Conversation.Backend)
		}
		rt.Janitor, err = conversation.NewJanitor(evictor, conversation.JanitorConfig{
			Backend:  cfg.Conversation.Backend,
			IdleTTL:  cfg.Conversation.IdleTTL,
			Schedule: cfg.Conversation.SweepSchedule,
		}, logger)
		if err != nil {
			return nil, err
		}
		rt.Janitor.Start()
	}

	logger.InfoContext(ctx, "runtime_ready",
		slog.String("dialect", string(rt.DB.Dialect())),
		slog.String("conversation_backend", cfg.Conversation.Backend),
		slog.Int("datasets", len(datasets)),
	)
	return rt, nil
}

// OpenDatabase opens only the database the tools run against, mounting any
// configured datasets.
func OpenDatabase(ctx context.Context, cfg config.Config) (*sqldb.DB, error) {
	datasets, err := sqldb.ParseDatasets(cfg.Database.Datasets)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{}
	if len(datasets) > 0 {
		if err := rt.openObjects(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return openDatabase(ctx, cfg, datasets, rt.Objects)
}

func (rt *Runtime) openObjects(ctx context.Context, cfg config.Config) error {
	if strings.TrimSpace(cfg.ObjectStore.Endpoint) == "" || strings.TrimSpace(cfg.ObjectStore.Bucket) == "" {
		return fmt.Errorf("object store endpoint and bucket are required")
	}
	objects, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return fmt.Errorf("initialize object store: %w", err)
	}
	rt.Objects = objects
	return nil
}

func openDatabase(ctx context.Context, cfg config.Config, datasets []sqldb.Dataset, objects *s3store.Store) (*sqldb.DB, error) {
	dbCfg := sqldb.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SampleRows:      cfg.Database.SampleRows,
		MaxResultRows:   cfg.Database.MaxResultRows,
		Datasets:        datasets,
	}
	// A nil *s3store.Store must not reach sqldb as a non-nil interface.
	if objects == nil {
		return sqldb.Open(ctx, dbCfg, nil)
	}
	return sqldb.Open(ctx, dbCfg, objects)
}

func (rt *Runtime) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Conversation.Backend {
	case config.ConversationBackendMemory, "":
		rt.Store = inmem.New()
	case config.ConversationBackendPostgres:
		db, err := convpostgres.Open(ctx, convpostgres.DBConfig{
			DSN:             cfg.Conversation.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, db.Close)
		rt.Store = convpostgres.NewStore(db)
	case config.ConversationBackendObjectStore:
		store, err := objectstore.New(rt.Objects, cfg.Conversation.ObjectPrefix)
		if err != nil {
			return err
		}
		rt.Store = store
	default:
		return fmt.Errorf("unsupported conversation backend %q", cfg.Conversation.Backend)
	}
	return nil
}

// Ready checks the database and, when it supports it, the conversation store.
func (rt *Runtime) Ready(ctx context.Context) error {
	if err := rt.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if checker, ok := rt.Store.(conversation.HealthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("conversation store: %w", err)
		}
	}
	return nil
}

// Close stops the janitor and releases every opened resource in reverse
// order.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Janitor != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rt.Janitor.Stop(stopCtx)
		cancel()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
