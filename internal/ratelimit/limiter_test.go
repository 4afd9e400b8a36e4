package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstPerKey(t *testing.T) {
	l := PerMinute(1, 2)

	assert.True(t, l.Allow("page-a"))
	assert.True(t, l.Allow("page-a"))
	assert.False(t, l.Allow("page-a"))

	// Keys are independent
	assert.True(t, l.Allow("page-b"))

	l.Forget("page-a")
	assert.True(t, l.Allow("page-a"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, 0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k"))
	}

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("k"))
}

func TestLimiter_Tokens(t *testing.T) {
	l := PerHour(3600, 5)
	assert.InDelta(t, 5.0, l.Tokens("k"), 0.01)
	l.Allow("k")
	assert.InDelta(t, 4.0, l.Tokens("k"), 0.1)
}
