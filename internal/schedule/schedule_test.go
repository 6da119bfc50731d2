package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestManualSchedulerFiresInDueOrder(t *testing.T) {
	s := NewManual(epoch)
	var order []string

	s.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	s.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	s.AfterFunc(300*time.Millisecond, func() { order = append(order, "c") })

	assert.Equal(t, 0, s.Advance(99*time.Millisecond))
	assert.Equal(t, 2, s.Advance(101*time.Millisecond))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, epoch.Add(200*time.Millisecond), s.Now())
}

func TestManualSchedulerCancel(t *testing.T) {
	s := NewManual(epoch)
	called := false
	h := s.AfterFunc(time.Second, func() { called = true })

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	assert.Equal(t, 0, s.Advance(2*time.Second))
	assert.False(t, called)
	assert.Equal(t, 0, s.Pending())
}

func TestManualSchedulerRescheduleFromCallback(t *testing.T) {
	s := NewManual(epoch)
	var ticks []time.Time

	var tick func()
	tick = func() {
		ticks = append(ticks, s.Now())
		s.AfterFunc(100*time.Millisecond, tick)
	}
	s.AfterFunc(100*time.Millisecond, tick)

	fired := s.Advance(350 * time.Millisecond)
	require.Equal(t, 3, fired)
	assert.Equal(t, []time.Time{
		epoch.Add(100 * time.Millisecond),
		epoch.Add(200 * time.Millisecond),
		epoch.Add(300 * time.Millisecond),
	}, ticks)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, s.Delays())
}

func TestRealSchedulerRunsAndCancels(t *testing.T) {
	done := make(chan struct{})
	RealScheduler{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}

	h := RealScheduler{}.AfterFunc(time.Hour, func() { t.Error("cancelled callback ran") })
	assert.True(t, h.Cancel())
}
