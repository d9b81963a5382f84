package wmbusd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldSet(t *testing.T) {
	res := Result{Fields: map[string]any{
		"total_m3": 1.234,
		"count":    int64(3),
		"status":   "OK",
		"leak":     true,
	}}
	fs := res.FieldSet()

	f, err := fs.Float("total_m3")
	require.NoError(t, err)
	require.Equal(t, 1.234, f)

	i, err := fs.Int("count")
	require.NoError(t, err)
	require.Equal(t, int64(3), i)

	s, err := fs.String("status")
	require.NoError(t, err)
	require.Equal(t, "OK", s)

	b, err := fs.Bool("leak")
	require.NoError(t, err)
	require.True(t, b)

	_, err = fs.Float("missing")
	require.Error(t, err)
	_, err = fs.Bool("status")
	require.Error(t, err)
}

func TestFieldSetNilMap(t *testing.T) {
	fs := Result{}.FieldSet()
	_, ok := fs.Raw("anything")
	require.False(t, ok)
	require.Nil(t, fs.Map())
}
