package realtime

import "time"

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
	backoffMultiplier  = 2
)

// Backoff is the reconnect schedule for a dropped channel.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (b Backoff) withDefaults() Backoff {
	if b.BaseDelay <= 0 {
		b.BaseDelay = DefaultBaseDelay
	}
	if b.MaxDelay < b.BaseDelay {
		b.MaxDelay = max(DefaultMaxDelay, b.BaseDelay)
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultMaxAttempts
	}
	return b
}

// NextDelay returns the wait before reconnect attempt n (0-based) and false
// once the attempts are used up.
func (b Backoff) NextDelay(attempt int) (time.Duration, bool) {
	b = b.withDefaults()
	if attempt >= b.MaxAttempts {
		return 0, false
	}

	delay := b.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= backoffMultiplier
		if delay >= b.MaxDelay {
			return b.MaxDelay, true
		}
	}
	return delay, true
}
