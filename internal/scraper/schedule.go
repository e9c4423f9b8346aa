package scraper

import "time"

// DefaultIntervalMinutes is used for custom frequencies without an interval.
const DefaultIntervalMinutes = 1440

var frequencyMinutes = map[Frequency]int{
	FrequencyHourly:  60,
	FrequencyDaily:   1440,
	FrequencyWeekly:  10080,
	FrequencyMonthly: 43200,
}

// Interval returns the scheduling cadence implied by the target's frequency.
func (t Target) Interval() time.Duration {
	if minutes, ok := frequencyMinutes[t.Frequency]; ok {
		return time.Duration(minutes) * time.Minute
	}
	if t.Frequency == FrequencyCustom && t.CustomIntervalMinutes != nil && *t.CustomIntervalMinutes > 0 {
		return time.Duration(*t.CustomIntervalMinutes) * time.Minute
	}
	return DefaultIntervalMinutes * time.Minute
}

// NextRun computes the next run time after a run started at lastRun.
func NextRun(t Target, lastRun time.Time) time.Time {
	return lastRun.Add(t.Interval())
}

// Schedulable reports whether the scheduler may select the target at now.
func (t Target) Schedulable(now time.Time) bool {
	if t.Status != TargetStatusActive || t.NextRunAt == nil {
		return false
	}
	return !t.NextRunAt.After(now)
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	_, ok := frequencyMinutes[f]
	return ok || f == FrequencyCustom
}

// Valid reports whether s is a known target status.
func (s TargetStatus) Valid() bool {
	switch s {
	case TargetStatusActive, TargetStatusPaused, TargetStatusDisabled:
		return true
	}
	return false
}
