package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agentworkforce/fieldsync/internal/background"
	"github.com/agentworkforce/fieldsync/internal/config"
	"github.com/agentworkforce/fieldsync/internal/connectivity"
	"github.com/agentworkforce/fieldsync/internal/drainlock"
	"github.com/agentworkforce/fieldsync/internal/logging"
	"github.com/agentworkforce/fieldsync/internal/metrics"
	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
	"github.com/agentworkforce/fieldsync/internal/offlinesync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app is everything a command needs to drive the engine.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    mutationqueue.Store
	engine   *offlinesync.Engine
	metrics  *metrics.SyncMetrics
	registry *prometheus.Registry
}

type appOptions struct {
	// deferToSpool hands dispatches to the background agent when a spool
	// directory is configured.
	deferToSpool bool
	// assumeOnline overrides sync.initial_online.
	assumeOnline bool
}

func buildApp(root *RootOptions, opts appOptions) (*app, error) {
	cfg, err := config.Load(root.ConfigPath, root.EnvFile)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if root.Verbose {
		level = "debug"
	}
	logger := logging.New(logging.Config{Env: cfg.Log.Env, Level: level, ServiceName: "fieldsync"})
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	store, err := mutationqueue.BuildStoreFromDSN(cfg.Store.DSN)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.New()
	if err := syncMetrics.Register(registry); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	_ = registry.Register(collectors.NewGoCollector())
	_ = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineOpts := offlinesync.Options{
		Store:         store,
		Transport:     offlinesync.NewHTTPTransport(&http.Client{Timeout: cfg.Transport.Timeout}),
		Logger:        logging.Printf(logger, "engine"),
		Metrics:       syncMetrics,
		InitialOnline: cfg.Sync.InitialOnline || opts.assumeOnline,
		SyncTag:       cfg.Sync.Tag,
	}
	if cfg.Store.LockFile != "" {
		lock, err := drainlock.New(cfg.Store.LockFile)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open drain lock: %w", err)
		}
		engineOpts.Lock = lock
	}
	if opts.deferToSpool && cfg.Background.SpoolDir != "" {
		engineOpts.Background = background.NewSpool(cfg.Background.SpoolDir)
	}
	engine, err := offlinesync.New(engineOpts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		engine:   engine,
		metrics:  syncMetrics,
		registry: registry,
	}, nil
}

func (a *app) Close() error {
	err := errors.Join(a.engine.Close(), a.store.Close())
	_ = a.logger.Sync()
	return err
}

// signalSource picks the connectivity source for the configured mode. Manual
// mode has none; connectivity is then set through the API.
func signalSource(cfg *config.Config, logger *zap.Logger) (offlinesync.SignalSource, error) {
	printer := logging.Printf(logger, "connectivity")
	switch cfg.Connectivity.Mode {
	case config.ModeManual, "":
		return nil, nil
	case config.ModeFile:
		return connectivity.NewFileSource(cfg.Connectivity.StatusFile, printer), nil
	case config.ModeProbe:
		return connectivity.NewProbeSource(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeJitter, printer), nil
	case config.ModeWebSocket:
		return connectivity.NewWebSocketSource(cfg.Connectivity.WebSocketURL, printer), nil
	default:
		return nil, fmt.Errorf("unknown connectivity mode %q", cfg.Connectivity.Mode)
	}
}

// drainError turns a drain report into an error when the drain stopped
// early.
func drainError(report offlinesync.DrainReport) error {
	switch {
	case report.Failure != nil:
		return report.Failure
	case report.LoadFailed:
		return fmt.Errorf("%w: pending mutations could not be loaded", offlinesync.ErrPersistence)
	case report.RemoveFailed:
		return fmt.Errorf("%w: a replayed mutation could not be removed", offlinesync.ErrPersistence)
	default:
		return nil
	}
}

func drainFunc(engine *offlinesync.Engine) background.DrainFunc {
	return func(ctx context.Context, intent background.Intent) error {
		report := engine.Drain(ctx)
		if report.Skipped {
			return nil
		}
		return drainError(report)
	}
}
