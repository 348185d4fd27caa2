package signal

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	clk := clock.NewMock()
	rl := NewRateLimiter(3, time.Second, clk)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("agent"), "attempt %d", i)
	}
	assert.False(t, rl.Allow("agent"))
	assert.True(t, rl.Allow("customer"), "limits are per party")

	clk.Add(500 * time.Millisecond)
	assert.False(t, rl.Allow("agent"))

	clk.Add(600 * time.Millisecond)
	assert.True(t, rl.Allow("agent"))
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, clock.NewMock())
	assert.True(t, rl.Allow("agent"))
	assert.False(t, rl.Allow("agent"))
	rl.Forget("agent")
	assert.True(t, rl.Allow("agent"))
}
