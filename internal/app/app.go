// Package app assembles the identity engine and its backends from config.
// Both the API server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/queue"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
)

// Options control which optional parts New brings up.
type Options struct {
	// LoadModels initialises ONNX Runtime and the face models.
	LoadModels bool
	// RequireModels turns a model load failure into an error. Without it the
	// engine starts degraded and reports ErrExtractorUnavailable.
	RequireModels bool
	// FallbackEvents receives lifecycle events when NATS is not configured.
	FallbackEvents identity.EventPublisher
}

type App struct {
	Config    *config.Config
	Store     identity.Store
	Extractor *vision.Extractor
	Snapshots *storage.MinIOStore
	Producer  *queue.Producer
	Engine    *identity.Engine

	closers []func()
}

// counter is implemented by both store backends.
type counter interface {
	Count(ctx context.Context) (int, error)
}

// OpenStore connects the configured identity store. The Postgres backend is
// migrated before use.
func OpenStore(ctx context.Context, cfg *config.Config) (identity.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(cfg.Store.IndexPath)
	case config.BackendPostgres:
		pg, err := storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if _, err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	if c, ok := store.(counter); ok {
		if n, err := c.Count(ctx); err == nil {
			slog.Info("identity store ready", "backend", cfg.Store.Backend, "identities", n)
		}
	}

	engineOpts := identity.Options{
		Threshold:            cfg.Matching.SimilarityThreshold,
		SerializeMutations:   cfg.Matching.SerializeMutations,
		VerifyUpdateIdentity: cfg.Matching.VerifyUpdateIdentity,
		StoreTimeout:         cfg.Store.Timeout,
	}

	if cfg.MinIO.Endpoint != "" {
		snaps, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to minio: %w", err)
		}
		if err := snaps.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		a.Snapshots = snaps
		engineOpts.Snapshots = snaps
	}

	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.closers = append(a.closers, producer.Close)
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		a.Producer = producer
		engineOpts.Events = producer
	} else if opts.FallbackEvents != nil {
		engineOpts.Events = opts.FallbackEvents
	}

	var extractor identity.Extractor
	if opts.LoadModels {
		x, err := loadModels(cfg.Vision)
		switch {
		case err == nil:
			a.Extractor = x
			extractor = x
			a.closers = append(a.closers, func() {
				x.Close()
				vision.DestroyRuntime()
			})
		case opts.RequireModels:
			a.Close()
			return nil, err
		default:
			slog.Error("face models unavailable, identity endpoints will return 503", "error", err)
		}
	}

	a.Engine = identity.NewEngine(extractor, store, engineOpts)
	slog.Info("identity engine ready",
		"threshold", a.Engine.Threshold(),
		"serialize_mutations", cfg.Matching.SerializeMutations,
		"verify_update_identity", cfg.Matching.VerifyUpdateIdentity,
		"snapshots", a.Snapshots != nil,
		"events", engineOpts.Events != nil,
	)
	return a, nil
}

func loadModels(cfg config.VisionConfig) (*vision.Extractor, error) {
	lib := cfg.ONNXLibPath
	if lib == "" {
		lib = vision.DefaultLibPath()
	}
	if err := vision.InitRuntime(lib); err != nil {
		return nil, err
	}
	x, err := vision.NewExtractor(cfg)
	if err != nil {
		vision.DestroyRuntime()
		return nil, fmt.Errorf("load face models: %w", err)
	}
	return x, nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
