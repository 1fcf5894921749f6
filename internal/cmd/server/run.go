package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/rzbill/tasq/internal/config"
	"github.com/rzbill/tasq/internal/runtime"
	httpserver "github.com/rzbill/tasq/internal/server/http"
	logpkg "github.com/rzbill/tasq/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	Config cfgpkg.Config
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context
	// or if signal delivery needs to be observed here. We layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}

	// Build process-wide logger using env/ApplyConfig; defaults: level=info, format=text
	logCfg := &logpkg.Config{
		Level:  getenvDefault("TASQ_LOG_LEVEL", cfg.Log.Level),
		Format: getenvDefault("TASQ_LOG_FORMAT", cfg.Log.Format),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		// Fallback to a sane default
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting Tasq server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	hsrv := httpserver.New(rt, procLogger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- hsrv.ListenAndServe(sctx, cfg.HTTPAddr)
	}()

	select {
	case <-sctx.Done():
		hsrv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && sctx.Err() == nil {
			return err
		}
		return nil
	}
}
