package main

// Linux input event types (from <linux/input.h>)
const (
	EV_KEY = 0x01

	// Default key codes bound to the logical keys.
	KEY_SPACE = 57
	KEY_ENTER = 28
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Clock defaults. The base tick is the period of the hardware timer interrupt
// the core was designed around.
const (
	defaultBaseTickMicros = 1000
	defaultFastDivider    = 2
	defaultSlowDivider    = 32
)

// Key defaults, in slow ticks.
const (
	defaultRepeatStart = 8  // hold time before the first long event
	defaultRepeatNext  = 64 // interval between repeated long events
)

// Rhythm defaults, in fast ticks.
const (
	defaultRhythmTicks  = 320
	defaultMinRhythm    = 90
	defaultBangDuration = 16

	// maxRhythmTicks bounds every rhythm length so the counters and the
	// target computation stay far from uint16 rollover.
	maxRhythmTicks = 16000

	// maxOverlayFactor bounds multiplicator/divisor for configured ratios.
	maxOverlayFactor = 4

	maxBangDuration = 1000
)

// Serial defaults
const (
	defaultSerialBaud      = 115200
	defaultSerialTimeoutMS = 20
	sensorRequestByte      = 'S'
)

// MIDI defaults
const (
	defaultMIDIChannel  = 9 // GM percussion
	defaultMIDINote     = 36
	defaultMIDIVelocity = 110
)
