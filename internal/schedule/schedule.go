// Package schedule provides the deferred-callback scheduler that drives the
// capture cycle cadence, with a manually advanced implementation for tests.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Handle is a pending deferred callback.
type Handle interface {
	// Cancel prevents the callback from running. It reports whether the
	// callback was still pending.
	Cancel() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Handle
}

// RealScheduler schedules callbacks on the runtime timer wheel.
type RealScheduler struct{}

// AfterFunc runs fn in its own goroutine once d has elapsed.
func (RealScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	return realHandle{timer: time.AfterFunc(d, fn)}
}

type realHandle struct {
	timer *time.Timer
}

func (h realHandle) Cancel() bool { return h.timer.Stop() }

// ManualScheduler is a manually advanced scheduler. Callbacks run
// synchronously on the goroutine that calls Advance, in due-time order.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	owner     *ManualScheduler
	due       time.Time
	delay     time.Duration
	seq       uint64
	fn        func()
	cancelled bool
	fired     bool
}

// NewManual creates a ManualScheduler whose clock starts at start.
func NewManual(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the scheduler's current time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc registers fn to run once the clock has advanced by d.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTask{
		owner: s,
		due:   s.now.Add(d),
		delay: d,
		seq:   s.seq,
		fn:    fn,
	}
	s.tasks = append(s.tasks, t)
	return t
}

// Cancel implements Handle.
func (t *manualTask) Cancel() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	wasPending := !t.cancelled && !t.fired
	t.cancelled = true
	return wasPending
}

// Pending returns the number of callbacks that have neither fired nor been
// cancelled.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled && !t.fired {
			n++
		}
	}
	return n
}

// Delays returns the requested delay of every pending callback, oldest first.
func (s *ManualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.tasks {
		if !t.cancelled && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// Advance moves the clock forward by d, firing every callback that becomes
// due, including callbacks scheduled by other callbacks within the window.
// It returns the number of callbacks fired.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	fired := 0
	for {
		s.mu.Lock()
		next := s.nextDueLocked(target)
		if next == nil {
			s.now = target
			s.compactLocked()
			s.mu.Unlock()
			return fired
		}
		next.fired = true
		if next.due.After(s.now) {
			s.now = next.due
		}
		s.mu.Unlock()

		next.fn()
		fired++
	}
}

func (s *ManualScheduler) nextDueLocked(target time.Time) *manualTask {
	var due []*manualTask
	for _, t := range s.tasks {
		if t.cancelled || t.fired || t.due.After(target) {
			continue
		}
		due = append(due, t)
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}

func (s *ManualScheduler) compactLocked() {
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.cancelled && !t.fired {
			live = append(live, t)
		}
	}
	s.tasks = live
}

var (
	_ Scheduler = RealScheduler{}
	_ Scheduler = (*ManualScheduler)(nil)
)
