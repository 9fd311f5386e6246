package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"snipebot/internal/allowlist"
	"snipebot/internal/config"
	"snipebot/internal/driver"
	"snipebot/internal/kernel"
	"snipebot/internal/metrics"
	"snipebot/modules/help"
	"snipebot/modules/recovery"
	"snipebot/modules/whitelist"
	"snipebot/pkg/snipebot"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	store, err := allowlist.Open(cfg.AllowList())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("close allow-list", "error", closeErr)
		}
	}()

	recorder := metrics.New()
	kernelRuntime := buildKernelRuntime(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtimes, err := buildDriverRuntime(ctx, logger, cfg)
	if err != nil {
		return err
	}
	sinkDispatcher, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return fmt.Errorf("build sink dispatcher: %w", err)
	}

	if err := registerRuntimeServices(
		kernelRuntime,
		logger,
		sinkDispatcher,
		driver.MemberDirectoryOf(runtimes),
	); err != nil {
		return err
	}
	if err := registerRuntimeDrivers(kernelRuntime, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, cfg, store, recorder); err != nil {
		return err
	}

	logger.Info("snipebot starting",
		"driver", cfg.Driver,
		"server_id", cfg.ServerID,
		"command_prefix", cfg.CommandPrefix,
		"allowlist_backend", cfg.AllowListBackend,
		"sinks", sinkDispatcher.Sinks(),
	)

	return serve(ctx, kernelRuntime, cfg.MetricsAddr, recorder, logger)
}

// newLogger builds the process logger in the configured format and level.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	options := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, options))
	}

	return slog.New(slog.NewJSONHandler(w, options))
}

func buildKernelRuntime(logger *slog.Logger, cfg *config.Config) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithCommandPrefix(cfg.CommandPrefix),
		kernel.WithShutdownTimeout(cfg.ShutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.SubscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.SubscriptionWorkers),
		kernel.WithDefaultHandlerTimeout(cfg.HandlerTimeout),
	)
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
) ([]driver.Runtime, error) {
	registry, err := driver.NewBuiltinRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("new builtin driver registry: %w", err)
	}

	runtimes, err := registry.BuildEnabled(ctx, driver.DefinitionsFromConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("build drivers: %w", err)
	}
	if len(runtimes) == 0 {
		return nil, fmt.Errorf("build drivers: no enabled driver")
	}

	return runtimes, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	sinkDispatcher snipebot.SinkDispatcher,
	members snipebot.MemberDirectory,
) error {
	if err := kernelRuntime.RegisterService(snipebot.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}
	if sinkDispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}
	if err := kernelRuntime.RegisterService(snipebot.ServiceSinkDispatcher, sinkDispatcher); err != nil {
		return fmt.Errorf("register sink dispatcher service: %w", err)
	}
	if members == nil {
		return nil
	}
	if err := kernelRuntime.RegisterService(snipebot.ServiceMemberDirectory, members); err != nil {
		return fmt.Errorf("register member directory service: %w", err)
	}

	return nil
}

func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	cfg *config.Config,
	store allowlist.Store,
	recorder *metrics.Recorder,
) error {
	recoveryModule, err := recovery.New(recovery.Config{
		ServerID:  cfg.ServerID,
		Depth:     cfg.HistoryDepth,
		Capacity:  cfg.IdentityCapacity,
		Retention: cfg.Retention,
		Location:  cfg.Location(),
		Cooldown:  cfg.CommandCooldown,
		Burst:     cfg.CommandBurst,
	}, recovery.WithAllowList(store), recovery.WithMetrics(recorder))
	if err != nil {
		return fmt.Errorf("new recovery module: %w", err)
	}
	if err := kernelRuntime.RegisterModule(ctx, recoveryModule); err != nil {
		return fmt.Errorf("register recovery module: %w", err)
	}

	whitelistModule, err := whitelist.New(whitelist.Config{
		ServerID:     cfg.ServerID,
		AdminUserIDs: cfg.AdminUserIDs,
		Prefix:       kernelRuntime.CommandPrefix(),
		Cooldown:     cfg.CommandCooldown,
		Burst:        cfg.CommandBurst,
	}, store, whitelist.WithMetrics(recorder))
	if err != nil {
		return fmt.Errorf("new whitelist module: %w", err)
	}
	if err := kernelRuntime.RegisterModule(ctx, whitelistModule); err != nil {
		return fmt.Errorf("register whitelist module: %w", err)
	}

	if err := kernelRuntime.RegisterModule(ctx, help.New()); err != nil {
		return fmt.Errorf("register help module: %w", err)
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, runtimes []driver.Runtime) error {
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
		}
	}

	return nil
}

// serve runs the kernel and, when metricsAddr is set, the metrics server.
// The metrics server stops once the kernel returns.
func serve(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	metricsAddr string,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) error {
	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(groupCtx)
	defer cancel()

	group.Go(func() error {
		defer cancel()
		if err := kernelRuntime.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if metricsAddr != "" {
		server := metrics.NewServer(metricsAddr, recorder, logger)
		group.Go(func() error {
			return server.Run(runCtx)
		})
	}

	return group.Wait()
}
