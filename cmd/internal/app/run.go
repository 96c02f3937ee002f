package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"
)

// Run is the process entrypoint used by cmd/gatekeeper.
// It returns an error instead of calling os.Exit so defers still run.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	deps, err := LoadDeps()
	if err != nil {
		log.Error("config.invalid", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := SetupTracing(ctx, cfg)
	if err != nil {
		log.Error("otel.setup.fail", "err", err)
		return err
	}
	defer func() {
		// ctx is already cancelled here.
		flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(cfg.ShutdownTimeout, 10*time.Second))
		defer cancelFlush()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("otel.shutdown.fail", "err", err)
		}
	}()

	a, err := New(ctx, cfg, deps, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}

	return a.Run(ctx)
}
