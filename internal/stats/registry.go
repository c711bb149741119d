// Package stats keeps process-wide harvesting counters.
package stats

import (
	"sync"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// RateWindow is the span over which the forwarding rate is measured.
const RateWindow = time.Minute

// Snapshot is a consistent copy of the registry counters. Fetched counts raw
// listing entries returned by successful fetches, before the occupancy filter
// and de-duplication; Sent counts the unique entries forwarded.
type Snapshot struct {
	Fetched       uint64    `json:"fetched"`
	Sent          uint64    `json:"sent"`
	Added         uint64    `json:"added"`
	Errors        uint64    `json:"errors"`
	RateLimited   uint64    `json:"rate_limited"`
	NoProxy       uint64    `json:"no_proxy"`
	Cycles        uint64    `json:"cycles"`
	ChunkFailures uint64    `json:"chunk_failures"`
	RatePerMin    uint64    `json:"rate_per_min"`
	StartedAt     time.Time `json:"started_at"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitzero"`
}

// Registry aggregates cycle reports. Safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	snap        Snapshot
	windowStart time.Time
	windowSent  uint64
}

// New returns a Registry whose rate window starts at now.
func New(now time.Time) *Registry {
	metrics.Init()
	return &Registry{
		snap:        Snapshot{StartedAt: now},
		windowStart: now,
	}
}

// Observe folds a finished cycle into the counters and mirrors it to Prometheus.
func (r *Registry) Observe(report crawler.CycleReport) {
	r.mu.Lock()
	r.snap.Fetched += uint64(max(report.Fetched, 0))
	r.snap.Sent += uint64(max(report.Sent, 0))
	r.snap.Added += uint64(max(report.Added, 0))
	r.snap.Errors += uint64(max(report.Errors, 0))
	r.snap.RateLimited += uint64(max(report.RateLimited, 0))
	r.snap.NoProxy += uint64(max(report.NoProxy, 0))
	r.snap.ChunkFailures += uint64(max(report.ChunkFailures, 0))
	r.snap.Cycles++
	r.snap.LastCycleAt = report.StartedAt.Add(report.Duration)
	r.windowSent += uint64(max(report.Sent, 0))
	r.mu.Unlock()

	metrics.AddEntries("fetched", report.Fetched)
	metrics.AddEntries("sent", report.Sent)
	metrics.AddEntries("added", report.Added)
	metrics.AddChunkFailures(report.ChunkFailures)
	metrics.ObserveCycle(report.Duration)
}

// RecordError counts a failure outside a normal cycle, such as a recovered panic.
func (r *Registry) RecordError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Errors++
}

// Tick closes the rate window once RateWindow has elapsed since it opened.
// It returns the entries sent during the closed window and true, or zero and
// false while the window is still open.
func (r *Registry) Tick(now time.Time) (uint64, bool) {
	r.mu.Lock()
	if now.Sub(r.windowStart) < RateWindow {
		r.mu.Unlock()
		return 0, false
	}
	rate := r.windowSent
	r.snap.RatePerMin = rate
	r.windowSent = 0
	r.windowStart = now
	r.mu.Unlock()

	metrics.SetEntriesPerMinute(float64(rate))
	return rate, true
}

// Snapshot returns a copy of the counters.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
