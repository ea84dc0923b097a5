package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduleValidation(t *testing.T) {
	_, err := NewSchedule(0, 100, 1000)
	require.Error(t, err)
	_, err = NewSchedule(1e-3, -1, 1000)
	require.Error(t, err)
	_, err = NewSchedule(1e-3, 100, 0)
	require.Error(t, err)
}

func TestScheduleWarmup(t *testing.T) {
	s, err := NewSchedule(1e-3, 1000, 10000)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, s.LR(0), 1e-15)
	assert.InDelta(t, 0.5e-3, s.LR(500), 1e-12)
	assert.InDelta(t, 1e-3, s.LR(1000), 1e-12, "peak at warmup boundary")
}

func TestScheduleCosineDecay(t *testing.T) {
	s, err := NewSchedule(1e-3, 1000, 10000)
	require.NoError(t, err)

	// Halfway through decay the cosine multiplier is 0.5.
	mid := 1000 + (10000-1000)/2
	assert.InDelta(t, 0.5e-3, s.LR(mid), 1e-9)

	// Decay is monotone between warmup end and the horizon.
	prev := s.LR(1000)
	for tok := 1500; tok <= 10000; tok += 500 {
		cur := s.LR(tok)
		assert.LessOrEqual(t, cur, prev, "tokens=%d", tok)
		prev = cur
	}
}

func TestScheduleFloor(t *testing.T) {
	s, err := NewSchedule(1e-3, 1000, 10000)
	require.NoError(t, err)

	// At and past the horizon the rate holds at MinFactor*Base.
	assert.InDelta(t, 0.1e-3, s.LR(10000), 1e-12)
	assert.InDelta(t, 0.1e-3, s.LR(50000), 1e-12)
}

func TestScheduleNoWarmup(t *testing.T) {
	s, err := NewSchedule(1e-3, 0, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, s.LR(0), 1e-12)
}
