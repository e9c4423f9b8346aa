package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHashIgnoresWhitespaceLayout(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("  <p>hello\n\n   world</p>\t"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("<p>hello world</p>"))
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := h.Hash([]byte("<p>hello there</p>"))
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
