package main

import (
	"context"
	"sync/atomic"
	"time"
)

// TickFlag identifies one of the scheduler's pending work items.
type TickFlag uint32

const (
	TickFast TickFlag = 1 << iota
	TickSlow
)

// TickFlags is the set of pending tick flags shared between the tick source
// and the scheduler.
//
// Flags are sticky bits: raising an already-raised flag is a no-op, so a
// scheduler that falls behind runs one handler call per flag, not a backlog.
type TickFlags struct {
	bits atomic.Uint32
	wake chan struct{}
}

// NewTickFlags returns an empty flag set.
func NewTickFlags() *TickFlags {
	return &TickFlags{wake: make(chan struct{}, 1)}
}

// Raise sets f and wakes the scheduler.
func (t *TickFlags) Raise(f TickFlag) {
	t.bits.Or(uint32(f))
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Take clears f and reports whether it was set.
func (t *TickFlags) Take(f TickFlag) bool {
	return t.bits.And(^uint32(f))&uint32(f) != 0
}

// pending reports whether f is currently set.
func (t *TickFlags) pending(f TickFlag) bool {
	return t.bits.Load()&uint32(f) != 0
}

// Wake returns the channel signalled whenever a flag is raised.
func (t *TickFlags) Wake() <-chan struct{} { return t.wake }

// TickSource divides the base timer into fast and slow ticks.
//
// The divider counts down from SlowDivider to 1. FAST is raised whenever the
// divider is a multiple of FastDivider; when it reaches zero the keys are
// sampled, SLOW is raised and the divider reloads.
type TickSource struct {
	period      time.Duration
	fastDivider uint8
	slowDivider uint8
	divider     uint8

	lines *KeyLines
	keys  *KeyDebouncer
	flags *TickFlags
}

// NewTickSource wires a tick source. The divider starts at 1, so the very
// first base tick produces a slow tick.
func NewTickSource(period time.Duration, fastDivider, slowDivider uint8, lines *KeyLines, keys *KeyDebouncer, flags *TickFlags) *TickSource {
	if fastDivider == 0 {
		fastDivider = 1
	}
	if slowDivider == 0 {
		slowDivider = 1
	}
	return &TickSource{
		period:      period,
		fastDivider: fastDivider,
		slowDivider: slowDivider,
		divider:     1,
		lines:       lines,
		keys:        keys,
		flags:       flags,
	}
}

// Step handles one base timer period.
func (s *TickSource) Step() {
	s.divider--
	if s.divider == 0 {
		s.divider = s.slowDivider
		s.keys.Poll(s.lines.Pressed())
		s.flags.Raise(TickSlow)
	}
	if s.divider%s.fastDivider == 0 {
		s.flags.Raise(TickFast)
	}
}

// Run calls Step once per period until ctx is canceled.
func (s *TickSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}
