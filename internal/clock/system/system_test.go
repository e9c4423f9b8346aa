package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

func TestManualClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	clk := NewManual(start)
	require.Equal(t, time.UTC, clk.Now().Location())
	require.True(t, clk.Now().Equal(start))

	clk.Advance(90 * time.Minute)
	require.True(t, clk.Now().Equal(start.Add(90*time.Minute)))

	later := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk.Set(later)
	require.Equal(t, later, clk.Now())
}
