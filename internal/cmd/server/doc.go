// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the Tasq runtime with its HTTP server, handling lifecycle and shutdown.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
