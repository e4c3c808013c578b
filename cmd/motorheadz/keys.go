package main

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// KeyMask is a bit set over the logical keys. A set bit means pressed.
type KeyMask uint8

// Logical keys. The key set is fixed at build time.
const (
	KeyTap KeyMask = 1 << 0 // times the rhythm, long press toggles the overlay
	KeyAux KeyMask = 1 << 1 // second press while tap is held toggles overlay sync

	AllKeys    = KeyTap | KeyAux
	RepeatMask = KeyTap
)

var keyNames = map[string]KeyMask{
	"tap": KeyTap,
	"aux": KeyAux,
}

// parseKeyName resolves a logical key name ("tap", "aux") to its bit.
func parseKeyName(name string) (KeyMask, error) {
	k, ok := keyNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown key %q (must be tap or aux)", name)
	}
	return k, nil
}

// ============================================================================
// Key lines
// ============================================================================

// KeyLines holds the electrical level of the key inputs.
//
// The switches are wired active-low against a pull-up: a set level bit means the
// key is released. Input sources (evdev readers, IPC) move the levels; the tick
// source samples them once per slow tick through Pressed().
//
// Thread-safe: all access is atomic.
type KeyLines struct {
	level atomic.Uint32
}

// NewKeyLines returns lines with every key released.
func NewKeyLines() *KeyLines {
	l := &KeyLines{}
	l.level.Store(uint32(AllKeys))
	return l
}

// Press pulls the given key lines low.
func (l *KeyLines) Press(keys KeyMask) {
	l.level.And(^uint32(keys & AllKeys))
}

// Release lets the given key lines float high.
func (l *KeyLines) Release(keys KeyMask) {
	l.level.Or(uint32(keys & AllKeys))
}

// Pressed returns the inverted line levels: 1 = pressed.
func (l *KeyLines) Pressed() KeyMask {
	return KeyMask(^l.level.Load()) & AllKeys
}

// ============================================================================
// Debouncer
// ============================================================================

// KeyDebouncer turns the sampled key lines into press/release/long/second-press
// events.
//
// Poll must be called once per slow tick. Debouncing comes entirely from the
// slow-tick period being longer than contact bounce; there is no filtering
// inside a call.
//
// Poll runs in the tick goroutine while the Consume* accessors run in the
// scheduler goroutine, so every field is guarded by mu.
type KeyDebouncer struct {
	mu sync.Mutex

	state       KeyMask // accepted state, 1 = pressed
	release     KeyMask // pending release events
	long        KeyMask // pending long-press / repeat events
	secondPress KeyMask // pending second-press events

	repeat   uint8 // countdown to the next long event
	repeatOn bool  // a long event has fired for the current hold
	simple   bool  // release events enabled (no concurrent keys seen)

	repeatStart uint8
	repeatNext  uint8
}

// NewKeyDebouncer creates a debouncer with the given initial delay and repeat
// interval, both in slow ticks. Zero values are treated as 1.
func NewKeyDebouncer(repeatStart, repeatNext uint8) *KeyDebouncer {
	if repeatStart == 0 {
		repeatStart = 1
	}
	if repeatNext == 0 {
		repeatNext = 1
	}
	return &KeyDebouncer{
		repeat:      repeatStart,
		simple:      true,
		repeatStart: repeatStart,
		repeatNext:  repeatNext,
	}
}

// Poll adopts one raw sample of the key lines (1 = pressed).
func (d *KeyDebouncer) Poll(raw KeyMask) {
	raw &= AllKeys

	d.mu.Lock()
	defer d.mu.Unlock()

	changed := d.state ^ raw
	d.state = raw
	pressed := d.state & changed

	if d.state == 0 && changed == 0 {
		d.simple = true
	}

	// A key went down while another one was already held.
	if pressed != 0 && d.state&^pressed != 0 {
		d.secondPress |= pressed
		d.simple = false
	}

	// No release after a repeat, otherwise a long press would also read as a tap.
	if d.simple && !d.repeatOn {
		d.release |= ^d.state & changed
	}

	if d.state&RepeatMask == 0 || !d.simple {
		d.repeat = d.repeatStart
		d.repeatOn = false
		return
	}

	d.repeat--
	if d.repeat == 0 {
		d.repeat = d.repeatNext
		d.long |= d.state & RepeatMask
		d.repeatOn = true
	}
}

// ConsumeRelease returns and clears pending release events under mask.
func (d *KeyDebouncer) ConsumeRelease(mask KeyMask) KeyMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	mask &= d.release
	d.release ^= mask
	return mask
}

// ConsumeLong returns and clears pending long-press events under mask.
func (d *KeyDebouncer) ConsumeLong(mask KeyMask) KeyMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	mask &= d.long
	d.long ^= mask
	return mask
}

// ConsumeSecondPress returns and clears pending second-press events under mask.
func (d *KeyDebouncer) ConsumeSecondPress(mask KeyMask) KeyMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	mask &= d.secondPress
	d.secondPress ^= mask
	return mask
}

// FirstPress returns the keys under mask that are held and were not flagged as
// a second press. It never clears anything, so a second key pressed repeatedly
// keeps being recognized as second.
func (d *KeyDebouncer) FirstPress(mask KeyMask) KeyMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return mask & d.state &^ d.secondPress
}

// Accepted returns the state adopted by the last Poll.
func (d *KeyDebouncer) Accepted() KeyMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
