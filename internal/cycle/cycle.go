// Package cycle runs one plan, fetch, dedup and forward iteration.
//
// A Cycle asks the cursor store for a plan sized by the current intensity,
// fans the planned fetches out over a bounded errgroup, folds the pages into
// a unique batch, advances the cursor store, forwards the batch and reports.
// Per-fetch and per-chunk failures are counted, never returned.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/cursor"
	"github.com/JakeFAU/listing-harvester/internal/dedup"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/proxypool"
	"github.com/JakeFAU/listing-harvester/internal/stats"
)

// ProxySource hands out egress leases and takes outcome feedback.
type ProxySource interface {
	Acquire(ctx context.Context) (proxypool.Lease, error)
	ReportSuccess(lease proxypool.Lease)
	ReportFailure(lease proxypool.Lease, rateLimited bool) time.Duration
	Stats() proxypool.Stats
}

// Config tunes a Cycle.
type Config struct {
	MaxAttempts      int
	RateLimitBackoff time.Duration
	MinPlaying       int
	SampleMode       cursor.SampleMode
	SinkTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 2 * time.Second
	}
	if c.MinPlaying < 0 {
		c.MinPlaying = 0
	}
	if c.SampleMode == "" {
		c.SampleMode = cursor.SampleDeepest
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	return c
}

// Deps are the collaborators a Cycle drives. Pacer, IDs and Sinks are optional.
type Deps struct {
	Pool    ProxySource
	Cursors *cursor.Store
	Fetcher crawler.Fetcher
	Dedup   *dedup.Buffer
	Uplink  crawler.Uplink
	Stats   *stats.Registry
	Policy  crawler.IntensityPolicy
	Pacer   crawler.Pacer
	Clock   crawler.Clock
	IDs     crawler.IDGenerator
	Sinks   []crawler.ReportSink
}

// Cycle executes fetch cycles. RunOnce must not be called concurrently.
type Cycle struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	seq    atomic.Uint64
}

// taskResult is what one planned fetch contributes.
type taskResult struct {
	page        crawler.PageResult
	noProxy     bool
	rateLimited int
	attempts    int
}

// New validates deps and builds a Cycle.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Cycle, error) {
	switch {
	case deps.Pool == nil:
		return nil, errors.New("cycle: proxy source is required")
	case deps.Cursors == nil:
		return nil, errors.New("cycle: cursor store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("cycle: fetcher is required")
	case deps.Dedup == nil:
		return nil, errors.New("cycle: dedup buffer is required")
	case deps.Uplink == nil:
		return nil, errors.New("cycle: uplink is required")
	case deps.Stats == nil:
		return nil, errors.New("cycle: stats registry is required")
	case deps.Policy == nil:
		return nil, errors.New("cycle: intensity policy is required")
	case deps.Clock == nil:
		return nil, errors.New("cycle: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Cycle{cfg: cfg.withDefaults(), deps: deps, logger: logger}, nil
}

// RunOnce performs one full cycle and returns its report. It only returns an
// error when ctx ends before the cycle could finish.
func (c *Cycle) RunOnce(ctx context.Context) (crawler.CycleReport, error) {
	started := c.deps.Clock.Now()
	report := crawler.NewCycleReport(c.cycleID(), started)

	// PLAN
	in := c.deps.Policy.Current()
	report.Mode = in.Mode
	plan := c.deps.Cursors.Plan(in.PageBudget, in.DepthSample, c.cfg.SampleMode)
	report.Planned = len(plan)

	// DISPATCH
	results := c.dispatch(ctx, plan, in.Concurrency)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("cycle %s interrupted: %w", report.CycleID, err)
	}

	// COLLECT
	batch, next := c.collect(results, &report)

	// UPDATE-STATE
	for _, p := range next {
		if c.deps.Cursors.Record(p.Cursor, p.Direction) {
			report.NewCursors[p.Direction]++
		}
	}

	// SEND
	if len(batch) > 0 {
		report.Added, report.ChunkFailures = c.deps.Uplink.Send(ctx, batch)
		report.Sent = len(batch)
	}

	// REPORT
	report.Duration = c.deps.Clock.Now().Sub(started)
	c.publish(ctx, report)
	return report, nil
}

func (c *Cycle) dispatch(ctx context.Context, plan []crawler.PlannedFetch, concurrency int) []taskResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]taskResult, len(plan))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, p := range plan {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("fetch task panicked",
						zap.String("direction", string(p.Direction)),
						zap.Any("panic", r),
						zap.Stack("stack"),
					)
					results[i] = taskResult{page: crawler.PageResult{
						Direction: p.Direction,
						Outcome:   crawler.OutcomeTransportError,
						Err:       fmt.Errorf("fetch task panicked: %v", r),
					}}
				}
			}()
			results[i] = c.fetch(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetch runs the retry loop for one planned page.
func (c *Cycle) fetch(ctx context.Context, plan crawler.PlannedFetch) taskResult {
	var res taskResult
	res.page = crawler.PageResult{Direction: plan.Direction}
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return res
		}
		lease, err := c.deps.Pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, proxypool.ErrNoProxy) {
				c.logger.Debug("no proxy for fetch, skipping",
					zap.String("direction", string(plan.Direction)),
					zap.Error(err),
				)
				res.noProxy = true
				res.page.Outcome = crawler.OutcomeNoProxy
				metrics.ObserveFetch(string(crawler.OutcomeNoProxy), 0)
			}
			return res
		}
		if c.deps.Pacer != nil {
			if err := c.deps.Pacer.Wait(ctx, strconv.FormatUint(lease.ID, 10)); err != nil {
				return res
			}
		}

		res.attempts++
		page := c.deps.Fetcher.Fetch(ctx, plan, lease.URL)
		res.page = page
		metrics.ObserveFetch(string(page.Outcome), page.Duration)

		switch page.Outcome {
		case crawler.OutcomeSuccess:
			c.deps.Pool.ReportSuccess(lease)
			return res
		case crawler.OutcomeRateLimited:
			res.rateLimited++
			cooldown := c.deps.Pool.ReportFailure(lease, true)
			c.logger.Debug("rate limited",
				zap.String("proxy", lease.Redacted()),
				zap.Duration("cooldown", cooldown),
				zap.Int("attempt", attempt),
			)
			if attempt < c.cfg.MaxAttempts {
				if err := c.deps.Clock.Sleep(ctx, c.cfg.RateLimitBackoff); err != nil {
					return res
				}
			}
		case crawler.OutcomeTransportError:
			c.deps.Pool.ReportFailure(lease, false)
		default:
			c.deps.Pool.ReportFailure(lease, false)
			return res
		}
	}
	return res
}

// collect folds task results into the report and returns the unique batch
// and the continuation cursors to store.
func (c *Cycle) collect(results []taskResult, report *crawler.CycleReport) ([]crawler.Entry, []crawler.PlannedFetch) {
	now := c.deps.Clock.Now()
	var (
		batch []crawler.Entry
		next  []crawler.PlannedFetch
	)
	// Compaction can drop an id admitted earlier in this cycle, so the batch
	// keeps its own set as well.
	seen := make(map[string]struct{})
	for _, r := range results {
		report.RateLimited += r.rateLimited
		if r.noProxy {
			report.NoProxy++
			report.Outcomes[crawler.OutcomeNoProxy]++
			continue
		}
		if r.page.Outcome == "" {
			continue
		}
		report.Outcomes[r.page.Outcome]++
		if r.page.Outcome != crawler.OutcomeSuccess {
			report.Errors++
			continue
		}
		report.Fetched += len(r.page.Entries)
		for _, e := range r.page.Entries {
			if e.Playing < c.cfg.MinPlaying {
				continue
			}
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			if !c.deps.Dedup.Admit(e.ID) {
				continue
			}
			e.DiscoveredAt = now
			batch = append(batch, e)
		}
		if r.page.NextCursor != "" {
			next = append(next, crawler.PlannedFetch{Cursor: r.page.NextCursor, Direction: r.page.Direction})
		}
	}
	report.Unique = len(batch)
	return batch, next
}

func (c *Cycle) publish(ctx context.Context, report crawler.CycleReport) {
	c.deps.Stats.Observe(report)

	depthAsc := c.deps.Cursors.Depth(crawler.Asc)
	depthDesc := c.deps.Cursors.Depth(crawler.Desc)
	metrics.SetCursorDepth(string(crawler.Asc), depthAsc)
	metrics.SetCursorDepth(string(crawler.Desc), depthDesc)
	metrics.SetDedupSize(c.deps.Dedup.Len())
	pool := c.deps.Pool.Stats()
	metrics.SetProxyPool(string(proxypool.StateFresh), pool.Eligible)
	metrics.SetProxyPool(string(proxypool.StateCoolingDown), pool.CoolingDown)
	metrics.SetProxyPool("expired", pool.Expired)

	c.logger.Debug("cycle complete",
		zap.String("cycle_id", report.CycleID),
		zap.String("mode", report.Mode),
		zap.Int("planned", report.Planned),
		zap.Int("fetched", report.Fetched),
		zap.Int("unique", report.Unique),
		zap.Int("added", report.Added),
		zap.Int("errors", report.Errors),
		zap.Int("rate_limited", report.RateLimited),
		zap.Int("no_proxy", report.NoProxy),
		zap.Duration("duration", report.Duration),
	)

	if rate, rolled := c.deps.Stats.Tick(c.deps.Clock.Now()); rolled {
		snap := c.deps.Stats.Snapshot()
		c.logger.Info("harvest rate",
			zap.Uint64("per_min", rate),
			zap.Uint64("sent", snap.Sent),
			zap.Uint64("added", snap.Added),
			zap.Int("depth_asc", depthAsc),
			zap.Int("depth_desc", depthDesc),
			zap.Int("depth", depthAsc+depthDesc),
			zap.Int("proxies", pool.Eligible),
		)
	}

	for _, sink := range c.deps.Sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, c.cfg.SinkTimeout)
		if err := sink.Record(sinkCtx, report); err != nil {
			c.logger.Warn("report sink failed", zap.String("cycle_id", report.CycleID), zap.Error(err))
		}
		cancel()
	}
}

func (c *Cycle) cycleID() string {
	n := c.seq.Add(1)
	if c.deps.IDs != nil {
		if id, err := c.deps.IDs.NewID(); err == nil {
			return id
		}
	}
	return "cycle-" + strconv.FormatUint(n, 10)
}
