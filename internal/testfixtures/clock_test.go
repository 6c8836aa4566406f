package testfixtures

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	assert.Equal(t, ReferenceTime(), clock.Now())
	assert.Equal(t, ReferenceTime(), clock.Now(), "a clock without step stands still")
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start)

	assert.Equal(t, start.Add(90*time.Minute), clock.Advance(90*time.Minute))

	clock.Set(start.Add(2 * time.Hour))
	assert.Equal(t, start.Add(2*time.Hour), clock.Now())
}

func TestSteppingClock(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	nowFn := NewSteppingClock(start, time.Second).NowFunc()

	assert.Equal(t, start, nowFn())
	assert.Equal(t, start.Add(time.Second), nowFn())
}
