package main

// StateSnapshot is a coherent, read-only copy of the scheduler-owned state.
// It is built inside the scheduler goroutine and is safe to hand to others.
type StateSnapshot struct {
	EngineOn    bool `json:"engine_on"`
	BangActive  bool `json:"bang_active"`
	SyncOverlay bool `json:"sync_overlay"`

	ActualTicks uint16 `json:"actual_ticks"`
	TargetTicks uint16 `json:"target_ticks"`
	Ratio       Ratio  `json:"ratio"`
	BangTimer   uint16 `json:"bang_timer"`

	// Raw counters in fast ticks.
	PrimaryCounter     uint16 `json:"primary_counter"`
	SecondaryCounter   uint16 `json:"secondary_counter"`
	MeasurementCounter uint16 `json:"measurement_counter"`

	SensorKnown bool  `json:"sensor_known"`
	SensorMin   uint8 `json:"sensor_min"`
	SensorMax   uint8 `json:"sensor_max"`
	SensorLast  uint8 `json:"sensor_last"`
	Position    int   `json:"position"`
	Segments    int   `json:"segments"`

	HeldKeys     []string `json:"held_keys"`     // line levels right now
	AcceptedKeys []string `json:"accepted_keys"` // as of the last slow tick
	FirstPress   []string `json:"first_press"`
}

// keyNameList lists the names of the keys in m in a stable order.
func keyNameList(m KeyMask) []string {
	out := []string{}
	if m&KeyTap != 0 {
		out = append(out, "tap")
	}
	if m&KeyAux != 0 {
		out = append(out, "aux")
	}
	return out
}
