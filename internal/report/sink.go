// Package report holds in-process cycle report sinks.
package report

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// LogSink writes every report as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record implements crawler.ReportSink.
func (s *LogSink) Record(_ context.Context, r crawler.CycleReport) error {
	s.logger.Info("cycle report",
		zap.String("cycle_id", r.CycleID),
		zap.String("mode", r.Mode),
		zap.Int("planned", r.Planned),
		zap.Int("fetched", r.Fetched),
		zap.Int("unique", r.Unique),
		zap.Int("sent", r.Sent),
		zap.Int("added", r.Added),
		zap.Int("new_asc", r.NewCursors[crawler.Asc]),
		zap.Int("new_desc", r.NewCursors[crawler.Desc]),
		zap.Int("errors", r.Errors),
		zap.Int("rate_limited", r.RateLimited),
		zap.Int("no_proxy", r.NoProxy),
		zap.Int("chunk_failures", r.ChunkFailures),
		zap.Duration("duration", r.Duration),
	)
	return nil
}

// History keeps the most recent reports in memory.
type History struct {
	mu      sync.Mutex
	size    int
	reports []crawler.CycleReport
}

// NewHistory keeps up to size reports; non-positive sizes keep 50.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 50
	}
	return &History{size: size, reports: make([]crawler.CycleReport, 0, size)}
}

// Record implements crawler.ReportSink.
func (h *History) Record(_ context.Context, r crawler.CycleReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.reports) == h.size {
		copy(h.reports, h.reports[1:])
		h.reports = h.reports[:h.size-1]
	}
	h.reports = append(h.reports, r)
	return nil
}

// Recent returns up to limit reports, newest first.
func (h *History) Recent(_ context.Context, limit int) ([]crawler.CycleReport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.reports) {
		limit = len(h.reports)
	}
	out := make([]crawler.CycleReport, 0, limit)
	for i := len(h.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.reports[i])
	}
	return out, nil
}
