package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/policy/intensity"
	"github.com/JakeFAU/listing-harvester/internal/proxypool"
	pubsubpublisher "github.com/JakeFAU/listing-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-harvester/internal/report"
	"github.com/JakeFAU/listing-harvester/internal/storage/postgres"
)

// buildProvider chains the configured proxy sources: the static list first,
// then the session gateway, then the provisioning API.
func buildProvider(cfg config.ProxyConfig, clock crawler.Clock, ids proxypool.SessionIDs) (proxypool.Provider, error) {
	var chain proxypool.ChainProvider
	if len(cfg.Static) > 0 {
		chain = append(chain, proxypool.NewStaticProvider(cfg.Static, cfg.Scheme, clock))
	}
	if cfg.Session.Host != "" {
		chain = append(chain, proxypool.NewSessionProvider(proxypool.SessionProviderConfig{
			Scheme:   cfg.Scheme,
			Host:     cfg.Session.Host,
			Port:     cfg.Session.Port,
			Username: cfg.Session.Username,
			Password: cfg.Session.Password,
		}, ids))
	}
	if cfg.Provider.Endpoint != "" {
		chain = append(chain, proxypool.NewHTTPProvider(proxypool.HTTPProviderConfig{
			Endpoint: cfg.Provider.Endpoint,
			APIKey:   cfg.Provider.APIKey,
			Scheme:   cfg.Scheme,
			Timeout:  cfg.Provider.Timeout,
		}, nil))
	}
	switch len(chain) {
	case 0:
		return nil, errors.New("no proxy source configured")
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}

// buildPolicy returns a static intensity, or a peak schedule when a peak
// window is configured.
func buildPolicy(cfg config.CycleConfig, now func() time.Time) (crawler.IntensityPolicy, error) {
	normal := toIntensity(cfg.Normal)
	if cfg.PeakStart == cfg.PeakEnd {
		return intensity.Static(normal), nil
	}
	schedule, err := intensity.NewSchedule(intensity.ScheduleConfig{
		Normal:    normal,
		Peak:      toIntensity(cfg.Peak),
		PeakStart: cfg.PeakStart,
		PeakEnd:   cfg.PeakEnd,
		Timezone:  cfg.Timezone,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("build intensity schedule: %w", err)
	}
	return schedule, nil
}

func toIntensity(c config.IntensityConfig) crawler.Intensity {
	return crawler.Intensity{
		Concurrency: c.Concurrency,
		Interval:    c.Interval,
		PageBudget:  c.PageBudget,
		DepthSample: c.DepthSample,
	}
}

// buildSinks assembles the report sinks. The returned func releases any
// connections the sinks hold.
func buildSinks(
	ctx context.Context,
	cfg config.Config,
	history *report.History,
	logger *zap.Logger,
) ([]crawler.ReportSink, func(), error) {
	sinks := []crawler.ReportSink{history, report.NewLogSink(logger.Named("report"))}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewCycleStore(ctx, postgres.CycleStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, closeAll, fmt.Errorf("open cycle store: %w", err)
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("ensure cycle schema: %w", err)
		}
		sinks = append(sinks, store)
		logger.Info("cycle reports persisted to postgres", zap.String("table", cfg.DB.Table))
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, cfg.Uplink.Source)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open pubsub publisher: %w", err)
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		})
		sinks = append(sinks, pub)
		logger.Info("cycle reports published to pubsub", zap.String("topic", cfg.PubSub.TopicName))
	}

	return sinks, closeAll, nil
}
