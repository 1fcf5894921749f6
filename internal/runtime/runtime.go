package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/rzbill/tasq/internal/config"
	"github.com/rzbill/tasq/internal/services/tasks"
	pebblestore "github.com/rzbill/tasq/internal/storage/pebble"
	"github.com/rzbill/tasq/internal/taskqueue"
	"github.com/rzbill/tasq/internal/telemetry"
	logpkg "github.com/rzbill/tasq/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
}

// Runtime wires storage, config, metrics and the broker facade for a
// single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *telemetry.Metrics

	leases *taskqueue.LeaseManager
	broker *tasks.Service
}

// Open initializes storage and the broker and starts the lease sweeper.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = cfgpkg.DefaultDataDir()
	}

	metrics := telemetry.New()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dataDir,
		Fsync:         fsyncMode(cfg.Fsync),
		FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, err
	}

	queues := taskqueue.NewQueueStore(db)
	registry := taskqueue.NewRegistry(db)
	leases := taskqueue.NewLeaseManager(db, queues, registry, logger)
	leases.SetReclaimObserver(func(n int) {
		metrics.ExpiredLeases.Add(float64(n))
	})

	broker := tasks.New(tasks.Options{
		Queues:         queues,
		Registry:       registry,
		Leases:         leases,
		PollData:       taskqueue.NewPollDataStore(db),
		Logger:         logger,
		Metrics:        metrics,
		DefaultLeaseMs: cfg.Broker.DefaultLeaseMs,
	})

	leases.StartSweeper(cfg.Broker.SweepInterval(), cfg.Broker.SweepMaxPerTick)

	return &Runtime{
		db:      db,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		leases:  leases,
		broker:  broker,
	}, nil
}

// Close stops the sweeper and closes underlying resources.
func (r *Runtime) Close() error {
	if r.leases != nil {
		r.leases.StopSweeper()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Broker returns the task broker facade.
func (r *Runtime) Broker() *tasks.Service { return r.broker }

// Metrics returns the telemetry registry.
func (r *Runtime) Metrics() *telemetry.Metrics { return r.metrics }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "always":
		return pebblestore.FsyncModeAlways
	case "never":
		return pebblestore.FsyncModeNever
	case "interval":
		return pebblestore.FsyncModeInterval
	default:
		return pebblestore.FsyncModeUnspecified
	}
}
