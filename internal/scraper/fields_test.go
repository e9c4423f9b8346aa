package scraper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromMatches(t *testing.T) {
	t.Parallel()

	_, ok := FromMatches(nil)
	require.False(t, ok)

	v, ok := FromMatches([]string{"one"})
	require.True(t, ok)
	require.False(t, v.IsList())
	require.Equal(t, "one", v.Text())

	v, ok = FromMatches([]string{"a", "b"})
	require.True(t, ok)
	require.True(t, v.IsList())
	require.Equal(t, []string{"a", "b"}, v.Items())
}

func TestFieldsJSONShape(t *testing.T) {
	t.Parallel()

	fields := Fields{
		"headline": Scalar("Breaking News"),
		"tags":     List([]string{"a", "b"}),
	}
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	require.JSONEq(t, `{"headline":"Breaking News","tags":["a","b"]}`, string(data))

	var decoded Fields
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, fields, decoded)
}

func TestValueUnmarshalRejectsObjects(t *testing.T) {
	t.Parallel()

	var v Value
	require.Error(t, json.Unmarshal([]byte(`{"a":1}`), &v))
}
