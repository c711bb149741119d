// Package dedup suppresses re-forwarding of entry identifiers within a bounded window.
package dedup

import "sync"

// Defaults for NewBuffer.
const (
	DefaultMaxSize   = 100_000
	DefaultKeepRatio = 0.5
)

// Buffer is a bounded set of identifiers already forwarded downstream.
// When it grows past maxSize it keeps only the newest keepRatio share of ids,
// an approximate LRU ordered by first admission.
type Buffer struct {
	mu      sync.Mutex
	maxSize int
	keep    int
	seen    map[string]struct{}
	order   []string
	evicted uint64
}

// NewBuffer builds a Buffer. Non-positive arguments fall back to the defaults.
func NewBuffer(maxSize int, keepRatio float64) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if keepRatio <= 0 || keepRatio >= 1 {
		keepRatio = DefaultKeepRatio
	}
	keep := int(float64(maxSize) * keepRatio)
	if keep < 1 {
		keep = 1
	}
	return &Buffer{
		maxSize: maxSize,
		keep:    keep,
		seen:    make(map[string]struct{}, maxSize+1),
		order:   make([]string, 0, maxSize+1),
	}
}

// Admit records id and returns true the first time it is seen. Repeats
// return false until compaction drops the id. Empty ids are never admitted.
func (b *Buffer) Admit(id string) bool {
	if id == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return false
	}
	b.seen[id] = struct{}{}
	b.order = append(b.order, id)
	if len(b.order) > b.maxSize {
		b.compact()
	}
	return true
}

// Contains reports whether id is currently retained.
func (b *Buffer) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seen[id]
	return ok
}

// Len returns the number of retained ids.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Evicted returns how many ids compaction has dropped so far.
func (b *Buffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// compact must be called with b.mu held.
func (b *Buffer) compact() {
	drop := len(b.order) - b.keep
	for _, id := range b.order[:drop] {
		delete(b.seen, id)
	}
	kept := make([]string, b.keep, b.maxSize+1)
	copy(kept, b.order[drop:])
	b.order = kept
	b.evicted += uint64(drop)
}
