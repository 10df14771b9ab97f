package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	r := &ExponentialBackoffRetryer{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	d0, ok := r.NextDelay(0, nil)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d0)

	d2, ok := r.NextDelay(2, nil)
	require.True(t, ok)
	assert.Equal(t, 400*time.Millisecond, d2)

	d10, ok := r.NextDelay(10, nil)
	require.True(t, ok)
	assert.Equal(t, 1*time.Second, d10)
}

func TestExponentialBackoffJitterStaysPositive(t *testing.T) {
	r := NewExponentialBackoffRetryer()

	for attempt := 0; attempt < 20; attempt++ {
		d, ok := r.NextDelay(attempt, nil)
		require.True(t, ok)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Duration(float64(r.MaxDelay)*(1+r.JitterFactor)))
	}
}

func TestExponentialBackoffStopsAtMaxRetries(t *testing.T) {
	r := &ExponentialBackoffRetryer{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxRetries:   3,
	}

	_, ok := r.NextDelay(2, nil)
	assert.True(t, ok)

	_, ok = r.NextDelay(3, nil)
	assert.False(t, ok)
}

func TestFixedDelayRetryer(t *testing.T) {
	r := NewFixedDelayRetryer(50*time.Millisecond, 2)

	d, ok := r.NextDelay(0, nil)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)

	d, ok = r.NextDelay(1, nil)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)

	_, ok = r.NextDelay(2, nil)
	assert.False(t, ok)
}
