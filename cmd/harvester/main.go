package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/cursor"
	"github.com/JakeFAU/listing-harvester/internal/cycle"
	"github.com/JakeFAU/listing-harvester/internal/dedup"
	"github.com/JakeFAU/listing-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/logging"
	"github.com/JakeFAU/listing-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-harvester/internal/proxypool"
	"github.com/JakeFAU/listing-harvester/internal/report"
	"github.com/JakeFAU/listing-harvester/internal/stats"
	"github.com/JakeFAU/listing-harvester/internal/uplink"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("harvester stopped with error", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	ids := uuid.New()

	provider, err := buildProvider(cfg.Proxy, clock, ids)
	if err != nil {
		return err
	}
	pool := proxypool.New(proxypool.Config{
		MinSize:           cfg.Proxy.MinSize,
		BatchSize:         cfg.Proxy.BatchSize,
		Lifetime:          cfg.Proxy.Lifetime,
		Region:            cfg.Proxy.Region,
		FailureThreshold:  cfg.Proxy.FailureThreshold,
		EvictAfter:        cfg.Proxy.EvictAfter,
		CooldownBase:      cfg.Proxy.CooldownBase,
		CooldownStep:      cfg.Proxy.CooldownStep,
		CooldownMax:       cfg.Proxy.CooldownMax,
		ReplenishInterval: cfg.Proxy.ReplenishInterval,
		ProvisionRPS:      cfg.Proxy.ProvisionRPS,
		ProvisionBurst:    cfg.Proxy.ProvisionBurst,
	}, provider, clock, logger.Named("proxypool"))

	cursors := cursor.NewStore(cfg.Cursor.Capacity)
	seen := dedup.NewBuffer(cfg.Dedup.MaxSize, cfg.Dedup.KeepRatio)
	registry := stats.New(clock.Now())

	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:          cfg.Listing.BaseURL,
		PlaceID:          cfg.Listing.PlaceID,
		PageSize:         cfg.Listing.PageSize,
		ExcludeFullGames: cfg.Listing.ExcludeFullGames,
		UserAgent:        cfg.Listing.UserAgent,
		Timeout:          cfg.Listing.Timeout,
	}, logger.Named("fetcher"))

	up, err := uplink.New(uplink.Config{
		CollectorURL: cfg.Uplink.CollectorURL,
		Path:         cfg.Uplink.Path,
		Source:       cfg.Uplink.Source,
		BatchSize:    cfg.Uplink.BatchSize,
		Timeout:      cfg.Uplink.Timeout,
	}, nil, logger.Named("uplink"))
	if err != nil {
		return fmt.Errorf("build uplink: %w", err)
	}

	policy, err := buildPolicy(cfg.Cycle, clock.Now)
	if err != nil {
		return err
	}
	pacer := ratelimit.New(ratelimit.Config{
		GlobalRPS:   cfg.RateLimit.GlobalRPS,
		GlobalBurst: cfg.RateLimit.GlobalBurst,
		PerKeyRPS:   cfg.RateLimit.PerProxyRPS,
		PerKeyBurst: cfg.RateLimit.PerProxyBurst,
	})

	history := report.NewHistory(cfg.Server.HistorySize)
	sinks, closeSinks, err := buildSinks(ctx, cfg, history, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	runner, err := cycle.New(cycle.Config{
		MaxAttempts:      cfg.Cycle.MaxAttempts,
		RateLimitBackoff: cfg.Cycle.RateLimitBackoff,
		MinPlaying:       cfg.Cycle.MinPlaying,
		SampleMode:       cursor.SampleMode(cfg.Cycle.SampleMode),
		SinkTimeout:      cfg.Cycle.SinkTimeout,
	}, cycle.Deps{
		Pool:    pool,
		Cursors: cursors,
		Fetcher: fetcher,
		Dedup:   seen,
		Uplink:  up,
		Stats:   registry,
		Policy:  policy,
		Pacer:   pacer,
		Clock:   clock,
		IDs:     ids,
		Sinks:   sinks,
	}, logger.Named("cycle"))
	if err != nil {
		return fmt.Errorf("build cycle: %w", err)
	}

	apiServer := api.NewServer(api.Deps{
		Stats:   registry,
		Cursors: cursors,
		Pool:    pool,
		Dedup:   seen,
		History: history,
	}, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	httpService := func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
		}()
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-runCtx.Done():
		case err := <-serveErr:
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	loop := dispatcher.New(runner, policy, clock, registry, dispatcher.Config{
		ErrorDelay: cfg.Cycle.ErrorDelay,
	}, logger.Named("dispatcher"), pool.Run, httpService)

	logger.Info("harvester started",
		zap.String("place_id", cfg.Listing.PlaceID),
		zap.String("collector", cfg.Uplink.CollectorURL),
		zap.Int("sinks", len(sinks)),
	)
	loop.Run(runCtx)
	logger.Info("shutdown complete", zap.Any("stats", registry.Snapshot()))

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
