package service

import (
	"sort"
	"time"

	"gridwarden/internal/core/domain"
)

// DEFAULT_BOUNDS_VALIDITY applies when a request leaves validity unset.
const DEFAULT_BOUNDS_VALIDITY = 5 * time.Second

// allowedValidities is the fixed set of accepted bound validity durations.
var allowedValidities = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// NormalizeValidity resolves the requested validity duration against the
// allowed set. Zero selects the default.
func NormalizeValidity(d time.Duration) (time.Duration, error) {
	if d == 0 {
		return DEFAULT_BOUNDS_VALIDITY, nil
	}
	for _, a := range allowedValidities {
		if d == a {
			return d, nil
		}
	}
	return 0, domain.InvalidArgument("validity duration must be one of 5s, 15s, 1m, 5m or 15m")
}

type timedInterval struct {
	domain.Interval
	expiresAt time.Time
}

// BoundsLedger holds the active inclusion intervals for every metric of
// one component. It is not safe for concurrent use; the owning component
// actor serializes access.
type BoundsLedger struct {
	sets map[domain.Metric][]timedInterval
}

func NewBoundsLedger() *BoundsLedger {
	return &BoundsLedger{sets: map[domain.Metric][]timedInterval{}}
}

// Add merges the submitted intervals into the metric's active set and
// stamps the merged result with the new expiry. An empty submission is a
// no-op that reports the latest expiry still active, or now when none is.
func (l *BoundsLedger) Add(metric domain.Metric, intervals []domain.Interval, now, expiry time.Time) (time.Time, error) {
	for _, iv := range intervals {
		if err := iv.Validate(); err != nil {
			return time.Time{}, err
		}
	}
	active := l.activeSet(metric, now)
	if len(intervals) == 0 {
		latest := now
		for _, ti := range active {
			if ti.expiresAt.After(latest) {
				latest = ti.expiresAt
			}
		}
		return latest, nil
	}

	all := make([]domain.Interval, 0, len(active)+len(intervals))
	for _, ti := range active {
		all = append(all, ti.Interval)
	}
	all = append(all, intervals...)

	merged := MergeIntervals(all)
	set := make([]timedInterval, len(merged))
	for i, iv := range merged {
		set[i] = timedInterval{Interval: iv, expiresAt: expiry}
	}
	l.sets[metric] = set
	return expiry, nil
}

// MergeIntervals collapses overlapping and touching intervals into a
// minimal sorted set. Single-pass sweep over the sorted input.
func MergeIntervals(intervals []domain.Interval) []domain.Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]domain.Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Lower == sorted[j].Lower {
			return sorted[i].Upper < sorted[j].Upper
		}
		return sorted[i].Lower < sorted[j].Lower
	})

	merged := []domain.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		// touching counts as overlapping
		if iv.Lower <= last.Upper {
			if iv.Upper > last.Upper {
				last.Upper = iv.Upper
			}
		} else {
			merged = append(merged, iv)
		}
	}
	return merged
}

// Validate reports whether value is inside any active interval.
// constrained is false when the metric has no active intervals at all.
// A power metric value of exactly 0 is always in range.
func (l *BoundsLedger) Validate(metric domain.Metric, value float64, now time.Time) (inBounds, constrained bool) {
	if metric.IsPower() && value == 0 {
		return true, len(l.activeSet(metric, now)) > 0
	}
	active := l.activeSet(metric, now)
	if len(active) == 0 {
		return false, false
	}
	for _, ti := range active {
		if ti.Contains(value) {
			return true, true
		}
	}
	return false, true
}

// Active returns the non-expired intervals for a metric.
func (l *BoundsLedger) Active(metric domain.Metric, now time.Time) []domain.Interval {
	active := l.activeSet(metric, now)
	out := make([]domain.Interval, len(active))
	for i, ti := range active {
		out[i] = ti.Interval
	}
	return out
}

// Sweep drops every expired interval across all metrics and reports how
// many were removed.
func (l *BoundsLedger) Sweep(now time.Time) int {
	dropped := 0
	for metric, set := range l.sets {
		kept := set[:0]
		for _, ti := range set {
			if ti.expiresAt.After(now) {
				kept = append(kept, ti)
			} else {
				dropped++
			}
		}
		if len(kept) == 0 {
			delete(l.sets, metric)
		} else {
			l.sets[metric] = kept
		}
	}
	return dropped
}

// activeSet lazily drops expired intervals for the metric before
// returning the rest.
func (l *BoundsLedger) activeSet(metric domain.Metric, now time.Time) []timedInterval {
	set, ok := l.sets[metric]
	if !ok {
		return nil
	}
	kept := set[:0]
	for _, ti := range set {
		if ti.expiresAt.After(now) {
			kept = append(kept, ti)
		}
	}
	if len(kept) == 0 {
		delete(l.sets, metric)
		return nil
	}
	l.sets[metric] = kept
	return kept
}
