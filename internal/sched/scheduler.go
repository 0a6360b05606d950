// Package sched — scheduler.go
//
// Time-deferred action posting for the PIB supervisor.
//
// The scheduler holds a bounded set of (action, fire-at) entries keyed on the
// monotonic clock. Sub-machines insert entries with a relative delay; the
// supervisor polls once per tick and posts the fired actions into the flag
// registry.
//
// Contract:
//   - An entry fires no earlier than requested; ties break arbitrarily.
//   - Clear() drops all pending entries (used when landing in an error
//     state, so no stale timer outlives the procedure that armed it).
//   - Capacity is fixed. Add() returns false when full; the caller decides
//     whether that is fatal (it is for profile scheduling).
//
// The monotonic clock is deliberate: wall-clock adjustments from a GPS fix
// must not fire or starve pending timers. Wall-clock triggers (time_trigger)
// are evaluated by the flight state machine, not here.

package sched

import (
	"time"

	"github.com/rachuts/pibd/internal/flags"
)

// Capacity is the maximum number of concurrently pending entries. Sized for
// a full night of scheduled profiles plus concurrent retry timers.
const Capacity = 32

type entry struct {
	action flags.Action
	fireAt time.Duration
	used   bool
}

// Scheduler is a bounded one-shot timer table. Not safe for concurrent use.
type Scheduler struct {
	entries [Capacity]entry
}

// Add schedules action to fire delay after now (monotonic). Returns false if
// the table is full or the action is invalid.
func (s *Scheduler) Add(a flags.Action, delay time.Duration, now time.Duration) bool {
	if !a.Valid() {
		return false
	}
	for i := range s.entries {
		if s.entries[i].used {
			continue
		}
		s.entries[i] = entry{action: a, fireAt: now + delay, used: true}
		return true
	}
	return false
}

// Poll removes and returns every entry whose fire time is at or before now.
func (s *Scheduler) Poll(now time.Duration) []flags.Action {
	var fired []flags.Action
	for i := range s.entries {
		if s.entries[i].used && s.entries[i].fireAt <= now {
			fired = append(fired, s.entries[i].action)
			s.entries[i].used = false
		}
	}
	return fired
}

// Cancel removes all pending entries for the given action. Returns the
// number removed.
func (s *Scheduler) Cancel(a flags.Action) int {
	removed := 0
	for i := range s.entries {
		if s.entries[i].used && s.entries[i].action == a {
			s.entries[i].used = false
			removed++
		}
	}
	return removed
}

// Clear drops every pending entry.
func (s *Scheduler) Clear() {
	for i := range s.entries {
		s.entries[i].used = false
	}
}

// Pending returns the number of pending entries.
func (s *Scheduler) Pending() int {
	n := 0
	for i := range s.entries {
		if s.entries[i].used {
			n++
		}
	}
	return n
}
