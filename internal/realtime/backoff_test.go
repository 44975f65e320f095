package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSchedule(t *testing.T) {
	backoff := Backoff{}

	var delays []time.Duration
	for attempt := 0; ; attempt++ {
		delay, ok := backoff.NextDelay(attempt)
		if !ok {
			break
		}
		delays = append(delays, delay)
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, delays)
}

func TestBackoffCapsDelay(t *testing.T) {
	backoff := Backoff{BaseDelay: 10 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 4}

	delay, ok := backoff.NextDelay(2)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, delay)

	_, ok = backoff.NextDelay(4)
	assert.False(t, ok)
}
