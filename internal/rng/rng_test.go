package rng

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultNeedIsInRange(t *testing.T) {
	d := NewDefault(1)
	for i := 0; i < 100; i++ {
		n := d.Need(5)
		assert.GreaterOrEqual(t, n, 1)
		assert.Less(t, n, 5)
	}
}

func TestDefaultNeedDegenerateCapacity(t *testing.T) {
	d := NewDefault(1)
	assert.Equal(t, 1, d.Need(1))
	assert.Equal(t, 1, d.Need(0))
}

func TestDefaultPhaseSleepInWindow(t *testing.T) {
	d := NewDefault(2)
	for i := 0; i < 50; i++ {
		s := d.PhaseSleep()
		assert.GreaterOrEqual(t, s, 3*time.Second)
		assert.Less(t, s, 8*time.Second)
	}
}

func TestFixedIsDeterministic(t *testing.T) {
	f := Fixed{NeedValue: 3, SleepValue: time.Millisecond}
	assert.Equal(t, 3, f.Need(100))
	assert.Equal(t, time.Millisecond, f.PhaseSleep())
}
