package location

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// Warsaw to Kraków is roughly 252 km.
	got := Haversine(52.2297, 21.0122, 50.0647, 19.9450)
	assert.InDelta(t, 252_000, got, 2_000)
	assert.Zero(t, Haversine(10, 10, 10, 10))
}

func TestStaticAndNone(t *testing.T) {
	loc, err := NewStatic(1.5, 2.5).FreshLocation(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 1.5, loc.Latitude)
	assert.False(t, loc.Time.IsZero())

	loc, err = None{}.FreshLocation(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loc)
}
