package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTargetInterval(t *testing.T) {
	t.Parallel()

	custom := 90
	zero := 0
	cases := []struct {
		name   string
		target Target
		want   time.Duration
	}{
		{"hourly", Target{Frequency: FrequencyHourly}, time.Hour},
		{"daily", Target{Frequency: FrequencyDaily}, 24 * time.Hour},
		{"weekly", Target{Frequency: FrequencyWeekly}, 7 * 24 * time.Hour},
		{"monthly", Target{Frequency: FrequencyMonthly}, 30 * 24 * time.Hour},
		{"custom", Target{Frequency: FrequencyCustom, CustomIntervalMinutes: &custom}, 90 * time.Minute},
		{"custom unset", Target{Frequency: FrequencyCustom}, 24 * time.Hour},
		{"custom zero", Target{Frequency: FrequencyCustom, CustomIntervalMinutes: &zero}, 24 * time.Hour},
		{"unknown", Target{Frequency: "fortnightly"}, 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.target.Interval())
		})
	}
}

func TestNextRunStrictlyIncreasesByInterval(t *testing.T) {
	t.Parallel()

	custom := 15
	target := Target{Frequency: FrequencyCustom, CustomIntervalMinutes: &custom}
	last := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	prev := last
	for i := 0; i < 5; i++ {
		next := NextRun(target, prev)
		require.True(t, next.After(prev))
		require.Equal(t, 15*time.Minute, next.Sub(prev))
		prev = next
	}
}

func TestTargetSchedulable(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	require.True(t, Target{Status: TargetStatusActive, NextRunAt: &past}.Schedulable(now))
	require.True(t, Target{Status: TargetStatusActive, NextRunAt: &now}.Schedulable(now))
	require.False(t, Target{Status: TargetStatusActive, NextRunAt: &future}.Schedulable(now))
	require.False(t, Target{Status: TargetStatusActive}.Schedulable(now))
	require.False(t, Target{Status: TargetStatusPaused, NextRunAt: &past}.Schedulable(now))
	require.False(t, Target{Status: TargetStatusDisabled, NextRunAt: &past}.Schedulable(now))
}

func TestDateTruncatesToUTCDay(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("east", 5*3600)
	in := time.Date(2024, 3, 2, 3, 30, 0, 0, loc)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Date(in))
}
