// Package schedule converts the declarative weekly backup schedule into
// concrete occurrence timestamps.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kibotos/kibotos/internal/config"
)

// Occurrence is a single concrete timestamp at which a scheduled backup
// should start, plus the recurrence period of its schedule entry.
type Occurrence struct {
	At     time.Time
	Period time.Duration
}

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var dayGroups = map[string][]time.Weekday{
	"weekdays": {time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	"weekends": {time.Sunday, time.Saturday},
	"everyday": {time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
}

// ExpandDays folds symbolic weekday groups ("weekdays", "weekends",
// "everyday") and concrete names into a de-duplicated weekday set. The result
// is sorted and independent of input order; expanding an already-concrete set
// is a no-op.
func ExpandDays(days []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]struct{})

	for _, day := range days {
		name := strings.ToLower(strings.TrimSpace(day))
		if group, ok := dayGroups[name]; ok {
			for _, wd := range group {
				seen[wd] = struct{}{}
			}
			continue
		}
		wd, ok := dayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", day)
		}
		seen[wd] = struct{}{}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("weekday set is empty")
	}

	expanded := make([]time.Weekday, 0, len(seen))
	for wd := range seen {
		expanded = append(expanded, wd)
	}
	sort.Slice(expanded, func(i, j int) bool { return expanded[i] < expanded[j] })

	return expanded, nil
}

// Resolve computes the occurrence set for all schedule entries relative to
// now. Every returned occurrence is at or after now: a candidate earlier on
// the same weekday rolls forward one week, since day-of-week arithmetic alone
// ignores the time of day. An occurrence equal to now to the second counts as
// future.
func Resolve(entries []config.ScheduleEntry, now time.Time) ([]Occurrence, error) {
	var set []Occurrence

	for i, entry := range entries {
		days, err := ExpandDays(entry.Days)
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}

		at, err := time.Parse("15:04", entry.Time)
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: time must be HH:MM: %w", i, err)
		}
		hour, minute := at.Hour(), at.Minute()

		for _, wd := range days {
			next := nextOccurrence(now, wd, hour, minute)
			prev := previousOccurrence(now, wd, hour, minute)

			set = append(set, Occurrence{
				At:     next,
				Period: next.Sub(prev),
			})
		}
	}

	return set, nil
}

// nextOccurrence finds the nearest timestamp at or after now falling on the
// given weekday at the given time of day.
func nextOccurrence(now time.Time, wd time.Weekday, hour, minute int) time.Time {
	daysAhead := (int(wd) - int(now.Weekday()) + 7) % 7
	cand := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	cand = cand.AddDate(0, 0, daysAhead)
	if cand.Before(now) {
		cand = cand.AddDate(0, 0, 7)
	}
	return cand
}

// previousOccurrence finds the most recent timestamp strictly before now
// falling on the given weekday at the given time of day. That can be earlier
// today; an occurrence equal to now belongs to the future, so it steps back a
// full week.
func previousOccurrence(now time.Time, wd time.Weekday, hour, minute int) time.Time {
	daysBack := (int(now.Weekday()) - int(wd) + 7) % 7
	cand := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	cand = cand.AddDate(0, 0, -daysBack)
	if !cand.Before(now) {
		cand = cand.AddDate(0, 0, -7)
	}
	return cand
}

// Nearest selects the occurrence whose absolute distance to now is minimal,
// ties broken by the earlier timestamp.
func Nearest(set []Occurrence, now time.Time) (Occurrence, bool) {
	if len(set) == 0 {
		return Occurrence{}, false
	}

	best := set[0]
	bestDist := absDuration(best.At.Sub(now))
	for _, occ := range set[1:] {
		dist := absDuration(occ.At.Sub(now))
		if dist < bestDist || (dist == bestDist && occ.At.Before(best.At)) {
			best = occ
			bestDist = dist
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
