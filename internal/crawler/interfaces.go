package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves one listing page through the given proxy URL.
// An empty proxyURL means a direct connection.
type Fetcher interface {
	Fetch(ctx context.Context, plan PlannedFetch, proxyURL string) PageResult
}

// Uplink forwards unique entries to the downstream collector.
type Uplink interface {
	Send(ctx context.Context, entries []Entry) (added int, failedChunks int)
}

// ReportSink receives every finished cycle report.
type ReportSink interface {
	Record(ctx context.Context, report CycleReport) error
}

// IntensityPolicy supplies the fetch budget for the next cycle.
type IntensityPolicy interface {
	Current() Intensity
}

// Pacer throttles outbound listing requests. key identifies the egress
// used for the request; an empty key applies only process-wide limits.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Clock returns the current time and waits on it, so tests can run without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces cycle and session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
