package main

import (
	"context"
	"testing"
	"time"
)

func newTestTickSource(fast, slow uint8) (*TickSource, *KeyLines, *KeyDebouncer, *TickFlags) {
	lines := NewKeyLines()
	keys := NewKeyDebouncer(defaultRepeatStart, defaultRepeatNext)
	flags := NewTickFlags()
	return NewTickSource(time.Millisecond, fast, slow, lines, keys, flags), lines, keys, flags
}

func TestTickFlagsSticky(t *testing.T) {
	f := NewTickFlags()
	f.Raise(TickFast)
	f.Raise(TickFast)
	f.Raise(TickSlow)

	if !f.pending(TickFast) || !f.pending(TickSlow) {
		t.Fatalf("flags not pending after Raise")
	}
	if !f.Take(TickFast) {
		t.Fatalf("Take(fast) = false")
	}
	if f.Take(TickFast) {
		t.Fatalf("fast flag taken twice")
	}
	if !f.Take(TickSlow) {
		t.Fatalf("Take(slow) = false")
	}

	select {
	case <-f.Wake():
	default:
		t.Fatalf("Raise did not signal Wake")
	}
	select {
	case <-f.Wake():
		t.Fatalf("Wake signalled more than once")
	default:
	}
}

func TestTickSourceFirstStepRaisesBoth(t *testing.T) {
	src, _, _, flags := newTestTickSource(defaultFastDivider, defaultSlowDivider)
	src.Step()
	if !flags.Take(TickSlow) || !flags.Take(TickFast) {
		t.Fatalf("first step did not raise slow and fast")
	}
}

func TestTickSourceDivision(t *testing.T) {
	src, _, _, flags := newTestTickSource(2, 32)

	fast, slow := 0, 0
	for i := 0; i < 320; i++ {
		src.Step()
		if flags.Take(TickFast) {
			fast++
		}
		if flags.Take(TickSlow) {
			slow++
		}
	}
	if fast != 160 {
		t.Fatalf("fast ticks = %d, want 160", fast)
	}
	if slow != 10 {
		t.Fatalf("slow ticks = %d, want 10", slow)
	}
}

func TestTickSourcePollsKeysOnSlowTick(t *testing.T) {
	src, lines, keys, _ := newTestTickSource(2, 4)

	src.Step() // slow tick, nothing pressed
	lines.Press(KeyTap)
	for i := 0; i < 3; i++ {
		src.Step()
	}
	if keys.Accepted() != 0 {
		t.Fatalf("keys sampled between slow ticks")
	}
	src.Step()
	if keys.Accepted() != KeyTap {
		t.Fatalf("Accepted() = %b after slow tick, want tap", keys.Accepted())
	}
}

func TestTickSourceRunStopsOnCancel(t *testing.T) {
	src, _, _, flags := newTestTickSource(1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	select {
	case <-flags.Wake():
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick within 2s")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
