package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJoinRateLimiterCapsBursts(t *testing.T) {
	rl := NewJoinRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"), "attempt %d", i)
	}
	assert.False(t, rl.Allow("alice"))
}

func TestJoinRateLimiterIsPerUser(t *testing.T) {
	rl := NewJoinRateLimiter(1, time.Minute)
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))
}

func TestJoinRateLimiterWindowSlides(t *testing.T) {
	rl := NewJoinRateLimiter(2, 50*time.Millisecond)
	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}
