package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/archive"
	memoryarchive "github.com/tendant/simple-lifecycle/pkg/lifecycle/archive/memory"
	s3archive "github.com/tendant/simple-lifecycle/pkg/lifecycle/archive/s3"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/audit"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/cms"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/metrics"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/repo/memory"
	repopg "github.com/tendant/simple-lifecycle/pkg/lifecycle/repo/postgres"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/scheduler"
)

// Runtime is a fully wired lifecycle deployment.
type Runtime struct {
	Service   lifecycle.Service
	Kinds     *lifecycle.KindRegistry
	Metrics   *metrics.Metrics
	Archiver  *archive.Archiver // nil when archiving is disabled
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger

	dispatcher *lifecycle.AsyncDispatcher
	pool       *pgxpool.Pool
}

// Close drains queued events and releases the database pool.
func (rt *Runtime) Close(ctx context.Context) error {
	var err error
	if rt.dispatcher != nil {
		err = rt.dispatcher.Close(ctx)
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	return err
}

// NewLogger builds the process logger: colored text through tint for humans,
// slog's JSON handler for machines.
func NewLogger(c LogConfig) *slog.Logger {
	level := parseLevel(c.Level)
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build creates the Service and everything around it from the configuration
func (c *Config) Build(ctx context.Context) (*Runtime, error) {
	logger := NewLogger(c.Log)
	rt := &Runtime{Kinds: cms.Registry(), Logger: logger}

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	m, err := metrics.NewMetrics()
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	rt.Metrics = m

	subscribers := []lifecycle.Subscriber{m}
	if c.EventLogging {
		subscribers = append(subscribers, lifecycle.NewLoggingSubscriber(logger))
	}
	if c.Audit.URL != "" {
		forwarder, err := audit.New(c.Audit.URL, audit.WithSource(c.Audit.Source), audit.WithLogger(logger))
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("failed to create audit forwarder: %w", err)
		}
		subscribers = append(subscribers, forwarder)
	}

	var publisher lifecycle.Publisher = lifecycle.NewEventBus(logger, subscribers...)
	if c.EventQueueSize > 0 {
		rt.dispatcher = lifecycle.NewAsyncDispatcher(publisher, c.EventQueueSize, logger)
		publisher = rt.dispatcher
	}

	options := []lifecycle.Option{
		lifecycle.WithRepository(repo),
		lifecycle.WithKinds(rt.Kinds),
		lifecycle.WithPublisher(publisher),
		lifecycle.WithLogger(logger),
	}
	if len(c.RequiredFields) > 0 {
		options = append(options, lifecycle.WithPublishPolicy(lifecycle.RequireFields(c.RequiredFields...)))
	}

	archiver, err := c.buildArchiver(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to build archive: %w", err)
	}
	if archiver != nil {
		rt.Archiver = archiver
		options = append(options, lifecycle.WithArchiver(archiver))
	}

	svc, err := lifecycle.New(options...)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.Service = svc

	if c.Scheduler.Enabled {
		rt.Scheduler = scheduler.New(svc,
			scheduler.WithInterval(c.Scheduler.Interval),
			scheduler.WithObserver(m),
			scheduler.WithLogger(logger),
		)
	}

	return rt, nil
}

// buildRepository creates a Repository based on the configuration
func (c *Config) buildRepository(ctx context.Context, rt *Runtime) (lifecycle.Repository, error) {
	switch c.Database.Type {
	case "memory":
		return memory.New(rt.Kinds)
	case "postgres":
		if c.Database.URL == "" {
			return nil, errors.New("database url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		cfg.MaxConns = c.Database.MaxConns
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		rt.pool = pool

		if c.Database.AutoMigrate {
			if err := repopg.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		return repopg.NewWithPool(pool, rt.Kinds), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
}

// buildArchiver creates the version archive; nil when archiving is disabled
func (c *Config) buildArchiver(ctx context.Context) (*archive.Archiver, error) {
	var store archive.BlobStore
	switch c.Archive.Type {
	case "", "none":
		return nil, nil
	case "memory":
		store = memoryarchive.New()
	case "s3":
		s3c := c.Archive.S3
		backend, err := s3archive.New(ctx, s3archive.Config{
			Region:                 s3c.Region,
			Bucket:                 s3c.Bucket,
			AccessKeyID:            s3c.AccessKeyID,
			SecretAccessKey:        s3c.SecretAccessKey,
			Endpoint:               s3c.Endpoint,
			UsePathStyle:           s3c.UsePathStyle,
			EnableSSE:              s3c.EnableSSE,
			SSEAlgorithm:           s3c.SSEAlgorithm,
			SSEKMSKeyID:            s3c.SSEKMSKeyID,
			CreateBucketIfNotExist: s3c.CreateBucket,
		})
		if err != nil {
			return nil, err
		}
		store = backend
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", c.Archive.Type)
	}
	return archive.New(store, archive.WithPrefix(c.Archive.Prefix)), nil
}
