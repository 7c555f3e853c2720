package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickMonotonic(t *testing.T) {
	c := New()
	assert.Equal(t, uint64(1), c.Tick())
	assert.Equal(t, uint64(2), c.Tick())
	assert.Equal(t, uint64(2), c.Now())
}

func TestObserveTakesMax(t *testing.T) {
	c := New()
	c.Tick() // time = 1
	assert.Equal(t, uint64(6), c.Observe(5))
	assert.Equal(t, uint64(7), c.Observe(1))
}

func TestObserveNeverDecreasesClock(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	before := c.Now()
	after := c.Observe(1)
	assert.Greater(t, after, before)
}

func TestConcurrentTicksAreSerialized(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Tick()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(n), c.Now())
}
