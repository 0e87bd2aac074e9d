package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for response time equalisation on logins
type TimingConfig struct {
	BaseDelay      time.Duration // minimum time a login response takes
	RandomDelay    time.Duration // jitter added on top of BaseDelay
	DelayOnSuccess bool          // if true, successful logins are padded as well
}

// TimingDelay pads login responses so "unknown user", "wrong password" and
// "locked out" take about the same time
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
	since  func(time.Time) time.Duration
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		sleep:  time.Sleep,
		since:  time.Since,
	}
}

// cryptoRandDuration returns a uniformly random duration in [0, max).
// Uses crypto/rand so the jitter cannot be predicted.
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// target returns the total time a response should take
func (td *TimingDelay) target() time.Duration {
	return td.config.BaseDelay + cryptoRandDuration(td.config.RandomDelay)
}

// WaitFrom sleeps until at least the target delay has passed since start.
// Work already done before the call counts toward the delay.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	if remaining := td.target() - td.since(start); remaining > 0 {
		td.sleep(remaining)
	}
}
