// Package intensity decides how hard each fetch cycle pushes.
package intensity

import (
	"fmt"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Mode names.
const (
	ModeNormal = "normal"
	ModePeak   = "peak"
)

// Static always returns the same intensity.
type Static crawler.Intensity

// Current implements crawler.IntensityPolicy.
func (s Static) Current() crawler.Intensity {
	in := crawler.Intensity(s)
	if in.Mode == "" {
		in.Mode = ModeNormal
	}
	return in
}

// Schedule switches to the peak intensity during a daily window of local
// hours [PeakStart, PeakEnd). The window may wrap midnight. Equal start and
// end hours disable peak mode.
type Schedule struct {
	normal    crawler.Intensity
	peak      crawler.Intensity
	peakStart int
	peakEnd   int
	location  *time.Location
	now       func() time.Time
}

// ScheduleConfig configures a Schedule.
type ScheduleConfig struct {
	Normal    crawler.Intensity
	Peak      crawler.Intensity
	PeakStart int
	PeakEnd   int
	Timezone  string
}

// NewSchedule builds a Schedule. now is typically clock.Now.
func NewSchedule(cfg ScheduleConfig, now func() time.Time) (*Schedule, error) {
	if cfg.PeakStart < 0 || cfg.PeakStart > 23 || cfg.PeakEnd < 0 || cfg.PeakEnd > 23 {
		return nil, fmt.Errorf("peak hours must be within 0-23, got %d-%d", cfg.PeakStart, cfg.PeakEnd)
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	if now == nil {
		now = time.Now
	}
	cfg.Normal.Mode = ModeNormal
	cfg.Peak.Mode = ModePeak
	return &Schedule{
		normal:    cfg.Normal,
		peak:      fillFrom(cfg.Peak, cfg.Normal),
		peakStart: cfg.PeakStart,
		peakEnd:   cfg.PeakEnd,
		location:  loc,
		now:       now,
	}, nil
}

// Current implements crawler.IntensityPolicy.
func (s *Schedule) Current() crawler.Intensity {
	if s.InPeak(s.now()) {
		return s.peak
	}
	return s.normal
}

// InPeak reports whether t falls inside the peak window.
func (s *Schedule) InPeak(t time.Time) bool {
	if s.peakStart == s.peakEnd {
		return false
	}
	h := t.In(s.location).Hour()
	if s.peakStart < s.peakEnd {
		return h >= s.peakStart && h < s.peakEnd
	}
	return h >= s.peakStart || h < s.peakEnd
}

// fillFrom copies unset peak fields from the normal intensity.
func fillFrom(peak, normal crawler.Intensity) crawler.Intensity {
	if peak.Concurrency <= 0 {
		peak.Concurrency = normal.Concurrency
	}
	if peak.Interval <= 0 {
		peak.Interval = normal.Interval
	}
	if peak.PageBudget <= 0 {
		peak.PageBudget = normal.PageBudget
	}
	if peak.DepthSample <= 0 {
		peak.DepthSample = normal.DepthSample
	}
	return peak
}
