package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpl(t *testing.T) {
	th := New("spl")
	assert.Equal(t, IPLNone, th.Spl())
	old := th.Splhigh()
	assert.Equal(t, IPLNone, old)
	assert.Equal(t, IPLHigh, th.Spl())
	th.Splx(old)
	assert.Equal(t, IPLNone, th.Spl())
}

func TestForkAndExit(t *testing.T) {
	done := make(chan string)
	reached := false
	Fork("worker", func(th *Thread) {
		defer func() { done <- th.Name }()
		Exit()
		reached = true
	})
	assert.Equal(t, "worker", <-done)
	assert.False(t, reached, "Exit returned")
}

func TestSpinlockCount(t *testing.T) {
	th := New("count")
	th.SpinlockAcquired()
	th.SpinlockAcquired()
	assert.Equal(t, 2, th.SpinlocksHeld())
	th.SpinlockReleased()
	th.SpinlockReleased()
	assert.Equal(t, 0, th.SpinlocksHeld())
	assert.Panics(t, th.SpinlockReleased)
}
