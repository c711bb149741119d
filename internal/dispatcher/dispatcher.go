// Package dispatcher drives fetch cycles forever alongside background services.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Runner executes one fetch cycle.
type Runner interface {
	RunOnce(ctx context.Context) (crawler.CycleReport, error)
}

// ErrorRecorder counts loop-level failures.
type ErrorRecorder interface {
	RecordError()
}

// Service is a background task that runs until its context ends.
type Service func(ctx context.Context)

// Config controls loop pacing.
type Config struct {
	// ErrorDelay is the pause after a failed or panicking cycle.
	ErrorDelay time.Duration
}

// Dispatcher runs cycles back to back, pausing for the policy interval
// between them, and keeps background services alive for the same lifetime.
type Dispatcher struct {
	runner   Runner
	policy   crawler.IntensityPolicy
	clock    crawler.Clock
	errors   ErrorRecorder
	services []Service
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher. errs may be nil.
func New(
	runner Runner,
	policy crawler.IntensityPolicy,
	clock crawler.Clock,
	errs ErrorRecorder,
	cfg Config,
	logger *zap.Logger,
	services ...Service,
) *Dispatcher {
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner:   runner,
		policy:   policy,
		clock:    clock,
		errors:   errs,
		services: services,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the services and the cycle loop and blocks until ctx finishes
// and every service has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, svc := range d.services {
		wg.Add(1)
		go func(run Service) {
			defer wg.Done()
			run(ctx)
		}(svc)
	}
	d.loop(ctx)
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	for ctx.Err() == nil {
		delay := d.policy.Current().Interval
		if err := d.runSafely(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("fetch cycle failed", zap.Error(err), zap.Duration("retry_in", d.cfg.ErrorDelay))
			if d.errors != nil {
				d.errors.RecordError()
			}
			delay = d.cfg.ErrorDelay
		}
		if delay <= 0 {
			continue
		}
		if err := d.clock.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// runSafely turns a panic inside a cycle into an error so the loop survives it.
func (d *Dispatcher) runSafely(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("fetch cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	if _, err := d.runner.RunOnce(ctx); err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}
	return nil
}
