package testutils

import (
	"sync"
	"time"

	"github.com/srg/penlink/internal/connmgr"
)

// ManualScheduler is a connmgr.Scheduler whose timers fire only when the test
// calls Fire.
type ManualScheduler struct {
	mu     sync.Mutex
	timers []*ManualTimer
}

var _ connmgr.Scheduler = (*ManualScheduler)(nil)

// ManualTimer is a timer created by ManualScheduler.
type ManualTimer struct {
	Delay time.Duration

	s       *ManualScheduler
	fn      func()
	stopped bool
	fired   bool
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) connmgr.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &ManualTimer{Delay: d, s: s, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *ManualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Fire runs every armed timer on the calling goroutine and returns how many
// fired.
func (s *ManualScheduler) Fire() int {
	s.mu.Lock()
	var due []*ManualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// Armed returns the number of timers that are neither stopped nor fired.
func (s *ManualScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Created returns the number of timers ever scheduled.
func (s *ManualScheduler) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Fired returns the number of timers that ran.
func (s *ManualScheduler) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if t.fired {
			n++
		}
	}
	return n
}

// LastDelay returns the delay of the most recently scheduled timer.
func (s *ManualScheduler) LastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return 0
	}
	return s.timers[len(s.timers)-1].Delay
}
