package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)

	assert.Equal(t, start, c.Now())

	got := c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), got)
	assert.Equal(t, got, c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestClock_ConcurrentAdvance(t *testing.T) {
	c := NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(time.Second)
			}
		}()
	}
	wg.Wait()

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(1000 * time.Second)
	assert.Equal(t, want, c.Now())
}
