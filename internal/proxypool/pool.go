// Package proxypool provisions, rotates and penalizes outbound proxies.
//
// The Pool owns every Descriptor. Callers borrow one through Acquire and hand
// back the outcome with ReportSuccess or ReportFailure; a background Run loop
// purges expired descriptors and tops the pool up from its Provider. Provider
// I/O never happens while the pool mutex is held.
package proxypool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// ErrNoProxy is returned by Acquire when no descriptor is eligible and
// provisioning could not supply one. Callers skip the fetch.
var ErrNoProxy = errors.New("no proxy available")

// Config tunes pool sizing, lifetimes and failure handling.
type Config struct {
	MinSize           int
	BatchSize         int
	Lifetime          time.Duration
	Region            string
	FailureThreshold  int
	EvictAfter        int
	CooldownBase      time.Duration
	CooldownStep      time.Duration
	CooldownMax       time.Duration
	ReplenishInterval time.Duration
	// ProvisionRPS caps provider calls; <= 0 disables the cap.
	ProvisionRPS   float64
	ProvisionBurst int
}

func (c Config) withDefaults() Config {
	if c.MinSize <= 0 {
		c.MinSize = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.MinSize * 2
	}
	if c.Lifetime <= 0 {
		c.Lifetime = 10 * time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 2
	}
	if c.EvictAfter <= 0 {
		c.EvictAfter = 6
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 30 * time.Second
	}
	if c.CooldownStep <= 0 {
		c.CooldownStep = 15 * time.Second
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 120 * time.Second
	}
	if c.ReplenishInterval <= 0 {
		c.ReplenishInterval = 5 * time.Second
	}
	if c.ProvisionBurst <= 0 {
		c.ProvisionBurst = 1
	}
	return c
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size              int    `json:"size"`
	Eligible          int    `json:"eligible"`
	CoolingDown       int    `json:"cooling_down"`
	Expired           int    `json:"expired"`
	Provisioned       uint64 `json:"provisioned"`
	Evicted           uint64 `json:"evicted"`
	ProvisionFailures uint64 `json:"provision_failures"`
}

// Pool is a concurrency-safe set of proxy descriptors.
type Pool struct {
	cfg      Config
	provider Provider
	clock    crawler.Clock
	logger   *zap.Logger
	limiter  *rate.Limiter
	flight   singleflight.Group

	mu          sync.Mutex
	descriptors map[uint64]*Descriptor
	nextID      uint64
	provisioned uint64
	evicted     uint64
	provFails   uint64
}

// New builds a Pool that provisions from provider.
func New(cfg Config, provider Provider, clock crawler.Clock, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.ProvisionRPS > 0 {
		limit = rate.Limit(cfg.ProvisionRPS)
	}
	return &Pool{
		cfg:         cfg,
		provider:    provider,
		clock:       clock,
		logger:      logger,
		limiter:     rate.NewLimiter(limit, cfg.ProvisionBurst),
		descriptors: make(map[uint64]*Descriptor),
	}
}

// Acquire returns a random eligible descriptor. When none is eligible it
// provisions synchronously and returns one of the new descriptors, or
// ErrNoProxy if that fails.
func (p *Pool) Acquire(ctx context.Context) (Lease, error) {
	if lease, ok := p.pick(); ok {
		return lease, nil
	}
	if _, err := p.provision(ctx, p.cfg.BatchSize); err != nil {
		p.logger.Warn("synchronous provisioning failed", zap.Error(err))
		return Lease{}, fmt.Errorf("%w: %w", ErrNoProxy, err)
	}
	if lease, ok := p.pick(); ok {
		return lease, nil
	}
	return Lease{}, ErrNoProxy
}

// ReportSuccess clears the error streak and cooldown for the leased descriptor.
func (p *Pool) ReportSuccess(lease Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.descriptors[lease.ID]
	if !ok {
		return
	}
	d.ErrorStreak = 0
	d.Successes++
	d.CooldownUntil = time.Time{}
	d.State = StateFresh
}

// ReportFailure records a failed request through the leased descriptor. A
// rate-limit, or a streak reaching FailureThreshold, starts a cooldown that
// grows with the streak; a streak reaching EvictAfter drops the descriptor.
// It returns the cooldown applied (zero when none, or when evicted).
func (p *Pool) ReportFailure(lease Lease, rateLimited bool) time.Duration {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.descriptors[lease.ID]
	if !ok {
		return 0
	}
	d.ErrorStreak++
	if d.ErrorStreak >= p.cfg.EvictAfter {
		d.State = StateEvicted
		delete(p.descriptors, d.ID)
		p.evicted++
		p.logger.Info("proxy evicted",
			zap.Uint64("proxy_id", d.ID),
			zap.String("proxy", redact(d.URL)),
			zap.Int("streak", d.ErrorStreak),
		)
		return 0
	}
	if !rateLimited && d.ErrorStreak < p.cfg.FailureThreshold {
		return 0
	}
	cooldown := p.backoff(d.ErrorStreak)
	d.CooldownUntil = now.Add(cooldown)
	d.State = StateCoolingDown
	p.logger.Debug("proxy cooling down",
		zap.Uint64("proxy_id", d.ID),
		zap.Bool("rate_limited", rateLimited),
		zap.Int("streak", d.ErrorStreak),
		zap.Duration("cooldown", cooldown),
	)
	return cooldown
}

// backoff grows linearly with the streak and is capped at CooldownMax.
func (p *Pool) backoff(streak int) time.Duration {
	if streak < 1 {
		streak = 1
	}
	d := p.cfg.CooldownBase + time.Duration(streak-1)*p.cfg.CooldownStep
	if d > p.cfg.CooldownMax {
		d = p.cfg.CooldownMax
	}
	return d
}

// Run purges and replenishes the pool every ReplenishInterval until ctx ends.
func (p *Pool) Run(ctx context.Context) {
	p.Replenish(ctx)
	ticker := time.NewTicker(p.cfg.ReplenishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Replenish(ctx)
		}
	}
}

// Replenish purges expired descriptors and provisions a batch when the
// eligible count is below MinSize.
func (p *Pool) Replenish(ctx context.Context) {
	purged := p.Purge()
	stats := p.Stats()
	if purged > 0 {
		p.logger.Debug("purged expired proxies", zap.Int("purged", purged), zap.Int("size", stats.Size))
	}
	if stats.Eligible >= p.cfg.MinSize {
		return
	}
	added, err := p.provision(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Warn("background provisioning failed",
			zap.Int("eligible", stats.Eligible),
			zap.Int("min_size", p.cfg.MinSize),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("pool replenished", zap.Int("added", added), zap.Int("eligible_before", stats.Eligible))
}

// Purge removes expired and evicted descriptors and returns how many went.
func (p *Pool) Purge() int {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, d := range p.descriptors {
		if d.expired(now) || d.State == StateEvicted {
			delete(p.descriptors, id)
			removed++
		}
	}
	return removed
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Size:              len(p.descriptors),
		Provisioned:       p.provisioned,
		Evicted:           p.evicted,
		ProvisionFailures: p.provFails,
	}
	for _, d := range p.descriptors {
		switch {
		case d.expired(now):
			s.Expired++
		case d.coolingDown(now):
			s.CoolingDown++
		default:
			s.Eligible++
		}
	}
	return s
}

// Add adopts candidates directly, bypassing the provider. Used for seeding.
func (p *Pool) Add(candidates ...Candidate) int {
	return p.adopt(candidates)
}

func (p *Pool) pick() (Lease, bool) {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	eligible := make([]*Descriptor, 0, len(p.descriptors))
	for _, d := range p.descriptors {
		if d.eligible(now) {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		return Lease{}, false
	}
	d := eligible[rand.IntN(len(eligible))]
	if d.State == StateCoolingDown {
		d.State = StateFresh
	}
	return d.lease(), true
}

// provision fetches count candidates and adopts them. Concurrent callers
// share a single in-flight provider call.
func (p *Pool) provision(ctx context.Context, count int) (int, error) {
	if p.provider == nil {
		return 0, errors.New("no proxy provider configured")
	}
	v, err, _ := p.flight.Do("provision", func() (any, error) {
		if !p.limiter.Allow() {
			return 0, errors.New("provisioning throttled")
		}
		candidates, err := p.provider.Provision(ctx, Request{
			Count:    count,
			Lifetime: p.cfg.Lifetime,
			Region:   p.cfg.Region,
		})
		if err != nil {
			p.mu.Lock()
			p.provFails++
			p.mu.Unlock()
			return 0, fmt.Errorf("provision proxies: %w", err)
		}
		added := p.adopt(candidates)
		if added == 0 {
			p.mu.Lock()
			p.provFails++
			p.mu.Unlock()
			return 0, errors.New("provider returned no usable proxies")
		}
		return added, nil
	})
	if err != nil {
		return 0, err
	}
	added, _ := v.(int)
	return added, nil
}

func (p *Pool) adopt(candidates []Candidate) int {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	known := make(map[string]struct{}, len(p.descriptors))
	for _, d := range p.descriptors {
		known[d.URL] = struct{}{}
	}
	added := 0
	for _, c := range candidates {
		if c.URL == "" {
			continue
		}
		if _, dup := known[c.URL]; dup {
			continue
		}
		expires := c.ExpiresAt
		if expires.IsZero() {
			expires = now.Add(p.cfg.Lifetime)
		}
		if !now.Before(expires) {
			continue
		}
		p.nextID++
		p.descriptors[p.nextID] = &Descriptor{
			ID:        p.nextID,
			URL:       c.URL,
			Source:    c.Source,
			AddedAt:   now,
			ExpiresAt: expires,
			State:     StateFresh,
		}
		known[c.URL] = struct{}{}
		added++
	}
	p.provisioned += uint64(added)
	return added
}
