package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Events
// ============================================================================
// Events are requests from the outer surfaces (IPC, websocket, tests) to the
// scheduler loop. Key and sensor events do not pass through the scheduler:
// they move the key lines or the static sensor directly, exactly like the
// electrical inputs they stand in for. Only requests that need the scheduler's
// state (snapshots) are delivered on the request channel.
// ============================================================================

// Event is a marker interface for everything the IPC protocol carries.
type Event interface {
	eventMarker()
}

// KeyDown pulls a logical key line low.
type KeyDown struct {
	Key string `json:"key"` // "tap" or "aux"
}

func (KeyDown) eventMarker() {}

// KeyUp releases a logical key line.
type KeyUp struct {
	Key string `json:"key"`
}

func (KeyUp) eventMarker() {}

// SensorSample sets the value returned by the static sensor source.
type SensorSample struct {
	Value uint8 `json:"value"`
}

func (SensorSample) eventMarker() {}

// GetState asks for a StateSnapshot in the IPC response.
type GetState struct{}

func (GetState) eventMarker() {}

// RequestStateSnapshot is handled by the scheduler loop, which replies with a
// coherent snapshot on Reply. Reply should be buffered (size 1).
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "key_down":
		var e KeyDown
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal KeyDown: %w", err)
		}
		return e, nil

	case "key_up":
		var e KeyUp
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal KeyUp: %w", err)
		}
		return e, nil

	case "sensor_sample":
		var e SensorSample
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SensorSample: %w", err)
		}
		return e, nil

	case "get_state":
		return GetState{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case KeyDown:
		env.Type = "key_down"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal KeyDown: %w", err)
		}
		env.Data = data

	case KeyUp:
		env.Type = "key_up"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal KeyUp: %w", err)
		}
		env.Data = data

	case SensorSample:
		env.Type = "sensor_sample"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal SensorSample: %w", err)
		}
		env.Data = data

	case GetState:
		env.Type = "get_state"

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}

// ============================================================================
// State broadcasts
// ============================================================================

// StateBroadcast is a state change emitted by the scheduler for observers.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastBang reports the actuator going on or off.
// Rhythm is "primary", "overlay" or "both" on assertion and empty on release.
type BroadcastBang struct {
	On     bool
	Rhythm string
}

func (BroadcastBang) broadcastMarker() {}

// BroadcastEngineChanged reports an overlay engine toggle.
type BroadcastEngineChanged struct {
	On bool
}

func (BroadcastEngineChanged) broadcastMarker() {}

// BroadcastRhythmCaptured reports a newly tapped primary rhythm length.
type BroadcastRhythmCaptured struct {
	Ticks uint16
}

func (BroadcastRhythmCaptured) broadcastMarker() {}

// BroadcastTempoChanged reports a recomputed overlay.
type BroadcastTempoChanged struct {
	Ratio       Ratio
	TargetTicks uint16
}

func (BroadcastTempoChanged) broadcastMarker() {}

// BroadcastSensorRange reports the calibrator's observed range.
type BroadcastSensorRange struct {
	Min, Max uint8
}

func (BroadcastSensorRange) broadcastMarker() {}

// BroadcastSyncChanged reports an overlay sync toggle.
type BroadcastSyncChanged struct {
	On bool
}

func (BroadcastSyncChanged) broadcastMarker() {}
