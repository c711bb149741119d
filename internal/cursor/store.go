// Package cursor keeps the pagination frontiers used to fan out across a listing.
//
// The store owns one bounded FIFO queue per scan direction. New cursors are
// appended at the tail and the oldest (shallowest) cursor is evicted once a
// queue is full, so retained cursors drift toward deeper pages over time.
package cursor

import (
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// SampleMode selects which stored cursors a plan reuses.
type SampleMode string

// Sampling policies.
const (
	// SampleDeepest takes the newest cursors from the tail of each queue.
	SampleDeepest SampleMode = "deepest"
	// SampleSpread takes cursors evenly spaced across each queue.
	SampleSpread SampleMode = "spread"
)

// DefaultCapacity is the per-direction queue size.
const DefaultCapacity = 1500

// Store holds the Asc and Desc cursor queues.
type Store struct {
	mu     sync.Mutex
	queues map[crawler.Direction]*ring
}

// NewStore creates a store whose queues each hold at most capacity cursors.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		queues: map[crawler.Direction]*ring{
			crawler.Asc:  newRing(capacity),
			crawler.Desc: newRing(capacity),
		},
	}
}

// Record appends cursor to the queue for dir. Empty cursors, unknown
// directions and cursors already queued for dir are ignored. It reports
// whether the cursor was stored.
func (s *Store) Record(cursor string, dir crawler.Direction) bool {
	if cursor == "" || !dir.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[dir].push(cursor)
}

// Plan returns the fetches for one cycle: a from-scratch fetch for each
// direction, then up to depthSample stored cursors per direction, alternating
// directions deepest first. The result is truncated to maxFetches when
// maxFetches > 0.
func (s *Store) Plan(maxFetches, depthSample int, mode SampleMode) []crawler.PlannedFetch {
	samples := make(map[crawler.Direction][]string, len(crawler.Directions))
	s.mu.Lock()
	for _, dir := range crawler.Directions {
		samples[dir] = s.queues[dir].sample(depthSample, mode)
	}
	s.mu.Unlock()

	plan := make([]crawler.PlannedFetch, 0, 2+len(samples[crawler.Asc])+len(samples[crawler.Desc]))
	for _, dir := range crawler.Directions {
		plan = append(plan, crawler.PlannedFetch{Direction: dir})
	}
	for i := 0; ; i++ {
		added := false
		for _, dir := range crawler.Directions {
			if i < len(samples[dir]) {
				plan = append(plan, crawler.PlannedFetch{Cursor: samples[dir][i], Direction: dir})
				added = true
			}
		}
		if !added {
			break
		}
	}

	if maxFetches > 0 && len(plan) > maxFetches {
		plan = plan[:maxFetches]
	}
	return plan
}

// Depth returns the number of cursors queued for dir.
func (s *Store) Depth(dir crawler.Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[dir]
	if !ok {
		return 0
	}
	return q.len()
}

// Capacity returns the per-direction queue bound.
func (s *Store) Capacity() int {
	return s.queues[crawler.Asc].capacity()
}

// Snapshot returns a copy of the queue for dir, oldest first.
func (s *Store) Snapshot(dir crawler.Direction) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[dir]
	if !ok {
		return nil
	}
	return q.items()
}
