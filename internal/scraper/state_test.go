package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := [][2]JobStatus{
		{JobStatusPending, JobStatusRunning},
		{JobStatusPending, JobStatusCancelled},
		{JobStatusRunning, JobStatusCompleted},
		{JobStatusRunning, JobStatusFailed},
		{JobStatusRunning, JobStatusCancelled},
	}
	for _, pair := range allowed {
		require.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	forbidden := [][2]JobStatus{
		{JobStatusPending, JobStatusCompleted},
		{JobStatusPending, JobStatusFailed},
		{JobStatusCompleted, JobStatusRunning},
		{JobStatusFailed, JobStatusPending},
		{JobStatusCancelled, JobStatusRunning},
		{JobStatusCompleted, JobStatusCancelled},
	}
	for _, pair := range forbidden {
		require.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestTerminalStatuses(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusPending.Terminal())
	require.False(t, JobStatusRunning.Terminal())
	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.True(t, JobStatusCancelled.Terminal())
}

func TestPreviousRecordStatus(t *testing.T) {
	t.Parallel()

	from, ok := PreviousRecordStatus(RecordStatusProcessed)
	require.True(t, ok)
	require.Equal(t, RecordStatusRaw, from)

	from, ok = PreviousRecordStatus(RecordStatusArchived)
	require.True(t, ok)
	require.Equal(t, RecordStatusProcessed, from)

	_, ok = PreviousRecordStatus(RecordStatusRaw)
	require.False(t, ok)
}

func TestJobOutcomeStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, JobStatusCompleted, JobOutcome{Success: true}.Status())
	require.Equal(t, JobStatusFailed, JobOutcome{}.Status())
}
