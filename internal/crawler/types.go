// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Direction is the sort order of the remote listing. Cursors are scoped to one direction.
type Direction string

// Listing sort orders as sent on the wire.
const (
	Asc  Direction = "Asc"
	Desc Direction = "Desc"
)

// Directions lists both scan directions in planning order.
var Directions = []Direction{Asc, Desc}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Asc || d == Desc
}

// PlannedFetch is one page request chosen by the cursor store.
// An empty Cursor means "start from the first page".
type PlannedFetch struct {
	Cursor    string
	Direction Direction
}

// Entry is one listing item returned by the remote endpoint.
type Entry struct {
	ID           string
	Playing      int
	DiscoveredAt time.Time
}

// Outcome classifies the result of a single page fetch.
type Outcome string

// Fetch outcomes.
const (
	OutcomeSuccess        Outcome = "success"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeEmpty          Outcome = "empty"
	OutcomeNoProxy        Outcome = "no_proxy"
)

// PageResult is what a Fetcher returns for one planned fetch.
type PageResult struct {
	Entries    []Entry
	NextCursor string
	Direction  Direction
	Outcome    Outcome
	StatusCode int
	Duration   time.Duration
	Err        error
}

// ListingPage is the JSON body of a successful listing response.
type ListingPage struct {
	Data           []ListingItem `json:"data"`
	NextPageCursor *string       `json:"nextPageCursor"`
}

// ListingItem is one element of ListingPage.Data.
type ListingItem struct {
	ID         FlexID `json:"id"`
	Playing    int    `json:"playing"`
	MaxPlayers int    `json:"maxPlayers"`
}

// FlexID decodes identifiers that may arrive as JSON strings or numbers.
type FlexID string

// UnmarshalJSON accepts "abc", 123 and null.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id %s: %w", string(data), err)
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexID(n.String())
	return nil
}

// Intensity is the per-cycle fetch budget supplied by the scheduling policy.
type Intensity struct {
	Mode        string
	Concurrency int
	Interval    time.Duration
	PageBudget  int
	DepthSample int
}

// CycleReport summarizes one FetchCycle iteration.
type CycleReport struct {
	CycleID       string            `json:"cycle_id"`
	Mode          string            `json:"mode"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"duration"`
	Planned       int               `json:"planned"`
	Fetched       int               `json:"fetched"` // raw entries before filtering and dedup
	Unique        int               `json:"unique"`
	Sent          int               `json:"sent"`
	Added         int               `json:"added"`
	NewCursors    map[Direction]int `json:"new_cursors"`
	Outcomes      map[Outcome]int   `json:"outcomes"`
	Errors        int               `json:"errors"`
	RateLimited   int               `json:"rate_limited"`
	NoProxy       int               `json:"no_proxy"`
	ChunkFailures int               `json:"chunk_failures"`
}

// NewCycleReport returns a report with its maps initialized.
func NewCycleReport(id string, startedAt time.Time) CycleReport {
	return CycleReport{
		CycleID:    id,
		StartedAt:  startedAt,
		NewCursors: map[Direction]int{Asc: 0, Desc: 0},
		Outcomes:   map[Outcome]int{},
	}
}
