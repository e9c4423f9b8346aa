package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsVersion7(t *testing.T) {
	t.Parallel()

	g := New()
	raw, err := g.NewID()
	require.NoError(t, err)

	parsed, err := goUUID.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestNewIDUnique(t *testing.T) {
	t.Parallel()

	g := New()
	seen := make(map[string]struct{}, 100)
	for range 100 {
		id, err := g.NewID()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
