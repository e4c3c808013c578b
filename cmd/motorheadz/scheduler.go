package main

import (
	"context"
	"fmt"
	"log/slog"
)

// ============================================================================
// Scheduler - the single owner of the rhythm state
// ============================================================================
//
// The tick source only raises flags. Everything that touches the calibrator
// and the tempo controller runs here, one handler at a time, so none of that
// state needs locking:
//   - FAST: advance the rhythms, start and stop bangs
//   - SLOW: consume key events, sample the sensor, retune the overlay
//   - requests: build snapshots for IPC and websocket clients
//
// Observers are notified through a broadcast channel. Sends never block; if
// nobody drains the channel fast enough, broadcasts are dropped rather than
// delaying a tick.
//
// ============================================================================

// Scheduler dispatches tick flags to the rhythm core.
type Scheduler struct {
	flags  *TickFlags
	keys   *KeyDebouncer
	lines  *KeyLines
	sensor SensorSource
	cal    *SensorCalibrator
	tempo  *TempoController
	logger *slog.Logger

	broadcasts chan<- StateBroadcast

	lastRatio     Ratio
	lastTarget    uint16
	lastMin       uint8
	lastMax       uint8
	sensorFailing bool
}

// SchedulerConfig holds the collaborators of a Scheduler.
// Broadcasts may be nil when nobody observes state changes.
type SchedulerConfig struct {
	Flags      *TickFlags
	Keys       *KeyDebouncer
	Lines      *KeyLines
	Sensor     SensorSource
	Calibrator *SensorCalibrator
	Tempo      *TempoController
	Broadcasts chan<- StateBroadcast
	Logger     *slog.Logger
}

// NewScheduler wires a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		flags:      cfg.Flags,
		keys:       cfg.Keys,
		lines:      cfg.Lines,
		sensor:     cfg.Sensor,
		cal:        cfg.Calibrator,
		tempo:      cfg.Tempo,
		logger:     logger,
		broadcasts: cfg.Broadcasts,
		lastRatio:  cfg.Tempo.Ratio(),
		lastTarget: cfg.Tempo.TargetLength(),
		lastMin:    255,
	}
}

// Run dispatches ticks and requests until ctx is canceled. On exit the
// actuator is deasserted.
func (s *Scheduler) Run(ctx context.Context, requests <-chan Event) error {
	defer s.tempo.Halt()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping (context canceled)")
			return nil

		case <-s.flags.Wake():
			s.Dispatch()

		case ev, ok := <-requests:
			if !ok {
				s.logger.Info("scheduler stopping (requests channel closed)")
				return nil
			}
			s.handleRequest(ev)
		}
	}
}

// Dispatch runs handlers until no flag is pending. FAST is checked before
// SLOW on every pass.
func (s *Scheduler) Dispatch() {
	for {
		switch {
		case s.flags.Take(TickFast):
			s.fastTick()
		case s.flags.Take(TickSlow):
			s.slowTick()
		default:
			return
		}
	}
}

func (s *Scheduler) handleRequest(ev Event) {
	switch e := ev.(type) {
	case RequestStateSnapshot:
		if e.Reply == nil {
			s.logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		select {
		case e.Reply <- s.Snapshot():
		default:
			s.logger.Warn("state snapshot reply dropped (receiver not ready)")
		}
	default:
		s.logger.Debug("scheduler ignoring request", "type", typeName(ev))
	}
}

func (s *Scheduler) fastTick() {
	wasActive := s.tempo.Status().BangActive
	r := s.tempo.OnFastTick()

	if r.Has(ReportRecomputed) {
		target := s.tempo.TargetLength()
		ratio := s.tempo.Ratio()
		if target != s.lastTarget || ratio != s.lastRatio {
			s.lastTarget = target
			s.lastRatio = ratio
			s.logger.Debug("overlay retuned", "ratio", ratio.String(), "target_ticks", target)
			s.publish(BroadcastTempoChanged{Ratio: ratio, TargetTicks: target})
		}
	}

	started := r&(ReportPrimaryBang|ReportSecondaryBang) != 0
	if started && !wasActive {
		rhythm := "primary"
		switch {
		case r.Has(ReportPrimaryBang | ReportSecondaryBang):
			rhythm = "both"
		case r.Has(ReportSecondaryBang):
			rhythm = "overlay"
		}
		s.logger.Debug("bang", "rhythm", rhythm)
		s.publish(BroadcastBang{On: true, Rhythm: rhythm})
	}
	if r.Has(ReportBangEnded) {
		s.publish(BroadcastBang{On: false})
	}
}

func (s *Scheduler) slowTick() {
	release := s.keys.ConsumeRelease(KeyTap) != 0
	long := s.keys.ConsumeLong(KeyTap) != 0

	second := s.keys.ConsumeSecondPress(AllKeys)
	if second&KeyAux != 0 && s.keys.FirstPress(KeyTap) != 0 {
		on := s.tempo.ToggleSync()
		s.logger.Info("overlay sync toggled", "sync_overlay", on)
		s.publish(BroadcastSyncChanged{On: on})
	}

	ratio := s.sampleRatio()

	r := s.tempo.OnSlowTick(release, long, ratio)

	if r.Has(ReportCaptured) {
		ticks := s.tempo.ActualLength()
		s.logger.Info("rhythm captured", "rhythm_ticks", ticks)
		s.publish(BroadcastRhythmCaptured{Ticks: ticks})
	}
	if r.Has(ReportEngineToggled) {
		on := s.tempo.Status().EngineOn
		s.logger.Info("overlay engine toggled", "engine_on", on)
		s.publish(BroadcastEngineChanged{On: on})
	}
}

// sampleRatio runs one sensor conversion and maps it onto the ratio table.
// A failed conversion keeps the ratio currently in use and leaves the
// calibrator untouched.
func (s *Scheduler) sampleRatio() Ratio {
	if s.sensor == nil {
		return s.tempo.Ratio()
	}

	raw, err := s.sensor.Convert()
	if err != nil {
		if !s.sensorFailing {
			s.sensorFailing = true
			s.logger.Warn("sensor conversion failed, keeping last ratio", "error", err)
		}
		return s.tempo.Ratio()
	}
	if s.sensorFailing {
		s.sensorFailing = false
		s.logger.Info("sensor conversion recovered")
	}

	ratio := s.cal.Sample(raw)
	if lo, hi, _ := s.cal.Extremes(); lo != s.lastMin || hi != s.lastMax {
		s.lastMin, s.lastMax = lo, hi
		s.publish(BroadcastSensorRange{Min: lo, Max: hi})
	}
	return ratio
}

// Snapshot builds a copy of the current state. Scheduler goroutine only.
func (s *Scheduler) Snapshot() StateSnapshot {
	st := s.tempo.Status()
	lo, hi, known := s.cal.Extremes()

	var held KeyMask
	if s.lines != nil {
		held = s.lines.Pressed()
	}

	primary, secondary, measurement := s.tempo.Counters()

	return StateSnapshot{
		EngineOn:           st.EngineOn,
		BangActive:         st.BangActive,
		SyncOverlay:        st.SyncOverlay,
		ActualTicks:        s.tempo.ActualLength(),
		TargetTicks:        s.tempo.TargetLength(),
		Ratio:              s.tempo.Ratio(),
		BangTimer:          s.tempo.BangTimer(),
		PrimaryCounter:     primary,
		SecondaryCounter:   secondary,
		MeasurementCounter: measurement,
		SensorKnown:        known,
		SensorMin:          lo,
		SensorMax:          hi,
		SensorLast:         s.cal.Last(),
		Position:           s.cal.Position(),
		Segments:           s.cal.Segments(),
		HeldKeys:           keyNameList(held),
		AcceptedKeys:       keyNameList(s.keys.Accepted()),
		FirstPress:         keyNameList(s.keys.FirstPress(AllKeys)),
	}
}

func (s *Scheduler) publish(b StateBroadcast) {
	if s.broadcasts == nil {
		return
	}
	select {
	case s.broadcasts <- b:
	default:
		s.logger.Debug("broadcast dropped (queue full)", "type", typeName(b))
	}
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
