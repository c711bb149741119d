package proxypool

import (
	"net/url"
	"time"
)

// State is the health of a descriptor as seen by the pool.
type State string

// Descriptor health states.
const (
	StateFresh       State = "fresh"
	StateCoolingDown State = "cooling_down"
	StateEvicted     State = "evicted"
)

// Candidate is an egress point returned by a Provider before the pool adopts it.
type Candidate struct {
	URL       string
	Source    string
	ExpiresAt time.Time
}

// Descriptor is one egress point owned by the pool.
type Descriptor struct {
	ID            uint64
	URL           string
	Source        string
	AddedAt       time.Time
	ExpiresAt     time.Time
	CooldownUntil time.Time
	ErrorStreak   int
	Successes     int
	State         State
}

// Lease identifies the descriptor handed to a caller by Acquire. It is the
// token passed back to ReportSuccess and ReportFailure.
type Lease struct {
	ID     uint64
	URL    string
	Source string
}

// Redacted returns the lease URL with any password masked, for logging.
func (l Lease) Redacted() string {
	return redact(l.URL)
}

func (d *Descriptor) expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

func (d *Descriptor) coolingDown(now time.Time) bool {
	return now.Before(d.CooldownUntil)
}

func (d *Descriptor) eligible(now time.Time) bool {
	return d.State != StateEvicted && !d.expired(now) && !d.coolingDown(now)
}

func (d *Descriptor) lease() Lease {
	return Lease{ID: d.ID, URL: d.URL, Source: d.Source}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-proxy-url"
	}
	return u.Redacted()
}
