// Package scheduler arms the wake/sleep boundary triggers and the per-minute
// refresh tick that drives display recomputation.
package scheduler

import (
	"sync"
	"time"

	"careclock/internal/clock"
	"careclock/internal/display"
	"careclock/internal/util"
)

// Trigger identifiers. One trigger of each kind is armed at a time.
const (
	triggerWake   = "wake"
	triggerSleep  = "sleep"
	triggerMinute = "minute"
)

// Handlers are the side effects invoked when a trigger fires. Firing and
// re-arming are handled by the Scheduler; handlers only react.
type Handlers struct {
	OnWake   func()
	OnSleep  func()
	OnMinute func()
}

// Scheduler turns the sleep/wake times into self-renewing one-shot triggers.
// Every fire re-arms the next occurrence before running its handler, so a
// late or duplicated delivery never breaks the cadence. Minute ticks run
// only during the awake period.
type Scheduler struct {
	timer    Timer
	clk      clock.Clock
	loc      *time.Location
	handlers Handlers
	logger   *util.Logger

	mu      sync.Mutex
	sleep   clock.TimeOfDay
	wake    clock.TimeOfDay
	ticking bool
}

// New creates a scheduler. Triggers stay disarmed until ApplySettings.
func New(timer Timer, clk clock.Clock, loc *time.Location, handlers Handlers, logger *util.Logger) *Scheduler {
	if logger == nil {
		logger = util.GetDefaultLogger()
	}
	return &Scheduler{
		timer:    timer,
		clk:      clk,
		loc:      loc,
		handlers: handlers,
		logger:   logger,
	}
}

// ApplySettings re-arms both boundary triggers for the given sleep/wake
// times and immediately starts or stops minute ticks to match the current
// awake status, without waiting for the next boundary.
func (s *Scheduler) ApplySettings(sleep, wake clock.TimeOfDay) {
	s.mu.Lock()
	s.sleep = sleep
	s.wake = wake

	s.armLocked(triggerWake, wake, s.wakeFired)
	s.armLocked(triggerSleep, sleep, s.sleepFired)

	awake := s.isAwakeLocked()
	if awake && !s.ticking {
		s.startTicksLocked()
	} else if !awake && s.ticking {
		s.stopTicksLocked()
	}
	s.mu.Unlock()
}

// IsAwakeNow reports whether the current time falls in the awake period
// under the last applied settings.
func (s *Scheduler) IsAwakeNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAwakeLocked()
}

// CancelAll disarms every trigger. Used at teardown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timer.Cancel(triggerWake)
	s.timer.Cancel(triggerSleep)
	s.stopTicksLocked()
}

func (s *Scheduler) isAwakeLocked() bool {
	now := clock.TimeOfDayOf(s.clk.Now().In(s.loc))
	return !display.InSleepPeriod(now, s.sleep, s.wake)
}

// armLocked schedules the next calendar occurrence of a time of day: today
// if still in the future, otherwise tomorrow.
func (s *Scheduler) armLocked(id string, target clock.TimeOfDay, fire func()) {
	now := s.clk.Now().In(s.loc)
	at := target.On(now)
	if !at.After(now) {
		at = target.On(now.AddDate(0, 0, 1))
	}

	s.logger.Debug("Arming trigger", "id", id, "at", at.Format(time.RFC3339))
	s.timer.Schedule(id, at, fire)
}

func (s *Scheduler) wakeFired() {
	s.mu.Lock()
	s.armLocked(triggerWake, s.wake, s.wakeFired)
	if !s.ticking {
		s.startTicksLocked()
	}
	handler := s.handlers.OnWake
	s.mu.Unlock()

	if handler != nil {
		handler()
	}
}

func (s *Scheduler) sleepFired() {
	s.mu.Lock()
	s.armLocked(triggerSleep, s.sleep, s.sleepFired)
	s.stopTicksLocked()
	handler := s.handlers.OnSleep
	s.mu.Unlock()

	if handler != nil {
		handler()
	}
}

func (s *Scheduler) minuteFired() {
	s.mu.Lock()
	if !s.ticking {
		s.mu.Unlock()
		return
	}
	s.armMinuteLocked()
	handler := s.handlers.OnMinute
	s.mu.Unlock()

	if handler != nil {
		handler()
	}
}

func (s *Scheduler) startTicksLocked() {
	s.ticking = true
	s.armMinuteLocked()
}

func (s *Scheduler) stopTicksLocked() {
	s.ticking = false
	s.timer.Cancel(triggerMinute)
}

func (s *Scheduler) armMinuteLocked() {
	next := s.clk.Now().In(s.loc).Truncate(time.Minute).Add(time.Minute)
	s.timer.Schedule(triggerMinute, next, s.minuteFired)
}
