package main

import "math"

// OutputLine is the actuator line driven by the tempo controller.
// Set must not block for long; it is called from the fast-tick handler.
type OutputLine interface {
	Set(on bool)
}

// RhythmConfig contains the tunable parameters of the tempo controller.
// All lengths are in fast ticks.
type RhythmConfig struct {
	DefaultLength uint16 // primary rhythm before the first tap
	MinLength     uint16 // captured lengths are clamped to [MinLength, MaxLength]
	MaxLength     uint16
	BangDuration  uint16 // base pulse width; the tempo term is added on top

	EngineOn    bool // overlay rhythm enabled at power-up
	SyncOverlay bool // re-lock the overlay to the primary every Multiplicator bangs
}

// RhythmStatus holds the controller flags.
type RhythmStatus struct {
	EngineOn         bool // overlay (secondary) rhythm enabled
	BangActive       bool // actuator asserted
	RecomputePending bool // target length must be recomputed on the next fast tick
	SyncOverlay      bool
}

// TickReport describes what a handler call did, for observers.
type TickReport uint8

const (
	ReportPrimaryBang TickReport = 1 << iota
	ReportSecondaryBang
	ReportBangEnded
	ReportRecomputed
	ReportCaptured
	ReportEngineToggled
)

// Has reports whether all bits of f are set.
func (r TickReport) Has(f TickReport) bool { return r&f == f }

// TempoController is the rate/phase generator behind the actuator.
//
// The primary rhythm fires every ActualRhythmLength fast ticks regardless of
// the engine flag. The overlay rhythm fires every TargetRhythmLength ticks
// while the engine is on. Both start the same bang; the bang ends when the
// bang timer runs out.
//
// Owned by the scheduler goroutine; not thread-safe.
type TempoController struct {
	cfg RhythmConfig
	out OutputLine

	status RhythmStatus

	primary     uint16
	secondary   uint16
	measurement uint16 // fast ticks since the last capture
	bangTimer   uint16

	actual uint16
	target uint16
	ratio  Ratio

	syncCountdown uint8
}

// NewTempoController creates a controller in its power-up state.
func NewTempoController(cfg RhythmConfig, initial Ratio, out OutputLine) *TempoController {
	if cfg.MaxLength == 0 {
		cfg.MaxLength = maxRhythmTicks
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = 1
	}
	if cfg.BangDuration == 0 {
		cfg.BangDuration = 1
	}
	actual := clampTicks(cfg.DefaultLength, cfg.MinLength, cfg.MaxLength)

	return &TempoController{
		cfg: cfg,
		out: out,
		status: RhythmStatus{
			EngineOn:    cfg.EngineOn,
			SyncOverlay: cfg.SyncOverlay,
		},
		bangTimer:     cfg.BangDuration,
		actual:        actual,
		target:        actual,
		ratio:         initial,
		syncCountdown: syncPeriod(initial),
	}
}

// OnFastTick advances both rhythms by one fast tick.
func (t *TempoController) OnFastTick() TickReport {
	var r TickReport

	t.primary++
	t.secondary++
	if t.measurement < t.cfg.MaxLength {
		t.measurement++
	}

	if t.status.RecomputePending {
		t.target = targetLength(t.actual, t.ratio)
		t.status.RecomputePending = false
		r |= ReportRecomputed
	}

	if t.secondary >= t.target {
		t.secondary = 0
		if t.status.EngineOn {
			t.beginBang()
			r |= ReportSecondaryBang
		}
	}

	if t.primary >= t.actual {
		t.primary = 0
		t.beginBang()
		r |= ReportPrimaryBang

		if t.status.SyncOverlay {
			t.syncCountdown--
			if t.syncCountdown == 0 {
				t.secondary = 0
				t.syncCountdown = syncPeriod(t.ratio)
			}
		}
	}

	if t.status.BangActive {
		t.bangTimer--
		if t.bangTimer == 0 {
			t.status.BangActive = false
			t.out.Set(false)
			t.bangTimer = t.cfg.BangDuration + t.target>>4
			r |= ReportBangEnded
		}
	}

	return r
}

// OnSlowTick applies the key events and the current sensor ratio.
//
// A release captures the elapsed time as the new primary length and forces
// the primary counter to the last tick before its threshold, so the very next
// fast tick bangs and the phase lines up with the gesture.
func (t *TempoController) OnSlowTick(release, long bool, ratio Ratio) TickReport {
	var r TickReport

	if release {
		t.actual = clampTicks(t.measurement, t.cfg.MinLength, t.cfg.MaxLength)
		t.measurement = 0
		t.primary = t.actual - 1
		t.status.RecomputePending = true
		r |= ReportCaptured
	}

	if long {
		t.status.EngineOn = !t.status.EngineOn
		r |= ReportEngineToggled
	}

	if ratio != t.ratio {
		t.syncCountdown = syncPeriod(ratio)
	}
	t.ratio = ratio
	t.status.RecomputePending = true

	return r
}

// ToggleSync flips overlay synchronisation and returns the new state.
func (t *TempoController) ToggleSync() bool {
	t.status.SyncOverlay = !t.status.SyncOverlay
	t.syncCountdown = syncPeriod(t.ratio)
	return t.status.SyncOverlay
}

// Halt ends a running bang and deasserts the output. Used on shutdown.
func (t *TempoController) Halt() {
	if t.status.BangActive {
		t.status.BangActive = false
	}
	t.out.Set(false)
}

func (t *TempoController) beginBang() {
	if !t.status.BangActive {
		t.status.BangActive = true
		t.out.Set(true)
	}
}

// Status returns a copy of the flags.
func (t *TempoController) Status() RhythmStatus { return t.status }

// ActualLength returns the primary rhythm length in fast ticks.
func (t *TempoController) ActualLength() uint16 { return t.actual }

// TargetLength returns the overlay rhythm length in fast ticks.
func (t *TempoController) TargetLength() uint16 { return t.target }

// Ratio returns the current overlay ratio.
func (t *TempoController) Ratio() Ratio { return t.ratio }

// BangTimer returns the remaining or next pulse width in fast ticks.
func (t *TempoController) BangTimer() uint16 { return t.bangTimer }

// Counters returns the primary, secondary and measurement counters.
func (t *TempoController) Counters() (primary, secondary, measurement uint16) {
	return t.primary, t.secondary, t.measurement
}

// targetLength computes floor(actual / divisor) * multiplicator.
// A zero divisor leaves the overlay at the primary length.
func targetLength(actual uint16, r Ratio) uint16 {
	if r.Divisor == 0 {
		return actual
	}
	v := uint32(actual/uint16(r.Divisor)) * uint32(r.Multiplicator)
	if v > math.MaxUint16-1 {
		v = math.MaxUint16 - 1
	}
	return uint16(v)
}

func syncPeriod(r Ratio) uint8 {
	if r.Multiplicator == 0 {
		return 1
	}
	return r.Multiplicator
}

func clampTicks(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
