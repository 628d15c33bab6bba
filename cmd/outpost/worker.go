package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/config"
	"github.com/outpostmail/outpost/internal/crypto"
	"github.com/outpostmail/outpost/internal/logging"
	"github.com/outpostmail/outpost/internal/pipeline"
	"github.com/outpostmail/outpost/internal/prefcache"
	"github.com/outpostmail/outpost/internal/server"
	"github.com/outpostmail/outpost/internal/store"
	"github.com/outpostmail/outpost/internal/workqueue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the send worker daemon",
	Long:  "Run the send workers and the admin/metrics endpoint until interrupted",
	RunE:  runWorker,
}

// app is the wired-up process: every collaborator the worker and the
// one-shot send command share.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	logClose func() error
	store    store.Store
	cache    prefcache.Cache
	client   api.Client
	runtime  *workqueue.InProcRuntime
}

// buildApp wires the process from configuration. Callers own shutdown via
// app.close.
func buildApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logClose, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	cache, err := prefcache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if err := cache.Connect(); err != nil {
		logger.Warn("preference cache unavailable, lookups go remote", "error", err)
		cache = nil
	}

	client := api.NewHTTPClient(api.HTTPClientConfig{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout(),
	}, logger)

	cryptographer := crypto.NewBoxCryptographer()

	saver := pipeline.NewDraftSaver(st, client, logger)
	resolver := pipeline.NewResolver(client, cache, cfg.Cache.TTL(), logger)
	builder := pipeline.NewPackageBuilder(cryptographer, logger)
	coordinator := pipeline.NewSendCoordinator(st, client, saver, resolver, builder, logger)
	executor := pipeline.NewExecutor(coordinator, logger)

	runtime := workqueue.NewInProcRuntime(workqueue.InProcConfig{
		Workers:        cfg.Queue.Workers,
		Online:         networkOnline,
		OfflineRecheck: cfg.Queue.OfflineRecheck(),
	}, executor, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		logClose: logClose,
		store:    st,
		cache:    cache,
		client:   client,
		runtime:  runtime,
	}, nil
}

func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	_ = a.store.Close()
	_ = a.logClose()
}

// networkOnline is the connectivity probe for the network constraint.
func networkOnline() bool {
	conn, err := net.DialTimeout("udp", "1.1.1.1:53", 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.runtime.Start(); err != nil {
		return fmt.Errorf("failed to start work runtime: %w", err)
	}
	a.logger.Info("send workers started", "workers", a.cfg.Queue.Workers)

	errCh := make(chan error, 1)
	var admin *server.Admin
	if a.cfg.Admin.Enabled {
		admin = server.New(server.Config{
			ListenAddr: a.cfg.Admin.ListenAddr,
			RateLimit:  a.cfg.Admin.RateLimit,
			RateBurst:  a.cfg.Admin.RateBurst,
		}, a.runtime, a.store.IsConnected, a.logger)
		go func() {
			errCh <- admin.Start()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if admin != nil {
		_ = admin.Stop(shutdownCtx)
	}
	if err := a.runtime.Stop(); err != nil {
		a.logger.Error("work runtime shutdown failed", "error", err)
	}
	return nil
}
