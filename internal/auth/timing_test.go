package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newRecordingDelay(config TimingConfig, elapsed time.Duration) (*TimingDelay, *[]time.Duration) {
	var slept []time.Duration
	td := NewTimingDelay(config)
	td.sleep = func(d time.Duration) { slept = append(slept, d) }
	td.since = func(time.Time) time.Duration { return elapsed }
	return td, &slept
}

func TestTimingDelay_PadsFailures(t *testing.T) {
	td, slept := newRecordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond}, 30*time.Millisecond)

	td.WaitFrom(time.Now(), false)

	assert.Equal(t, []time.Duration{70 * time.Millisecond}, *slept)
}

func TestTimingDelay_NoPaddingOnSuccessByDefault(t *testing.T) {
	td, slept := newRecordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond}, 0)

	td.WaitFrom(time.Now(), true)

	assert.Empty(t, *slept)
}

func TestTimingDelay_PadsSuccessWhenConfigured(t *testing.T) {
	td, slept := newRecordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond, DelayOnSuccess: true}, 0)

	td.WaitFrom(time.Now(), true)

	assert.Equal(t, []time.Duration{100 * time.Millisecond}, *slept)
}

func TestTimingDelay_SlowWorkIsNotPaddedFurther(t *testing.T) {
	td, slept := newRecordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond}, 250*time.Millisecond)

	td.WaitFrom(time.Now(), false)

	assert.Empty(t, *slept)
}

func TestTimingDelay_JitterStaysInRange(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 50 * time.Millisecond, RandomDelay: 20 * time.Millisecond})

	for i := 0; i < 200; i++ {
		d := td.target()
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 70*time.Millisecond)
	}
}

func TestTimingDelay_RealSleep(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 20 * time.Millisecond})
	start := time.Now()

	td.WaitFrom(start, false)

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
