package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"OpenACE-Chain/internal/config"
	"OpenACE-Chain/internal/observability/metrics"
	"OpenACE-Chain/pkg/logger"
)

// main 是 ACE 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("aced 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		return err
	}
	if err := logger.Init(loggerConfig(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Sync()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	log := logger.Named("aced")
	log.Info("ACE 引擎已就绪",
		slog.String("owner", app.engine.Owner().Hex()),
		slog.String("engine", app.engineAddress.Hex()),
		slog.Int("validators", len(app.engine.Validators())),
		slog.String("registry_store", cfg.Storage.NoteRegistry.Driver),
		slog.String("proof_cache", cfg.ProofCache.Driver),
		slog.String("events", cfg.Events.Driver))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	workers := 1
	go func() { errCh <- app.server.Start(ctx) }()
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		workers++
		go func() { errCh <- metrics.StartServer(ctx, cfg.Metrics.Address, app.metrics.Handler()) }()
	}

	// 任一服务退出即整体退出
	var firstErr error
	for i := 0; i < workers; i++ {
		err := <-errCh
		if firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	return firstErr
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		},
	}
}
