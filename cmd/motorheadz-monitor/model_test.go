package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func mustFrame(t *testing.T, typ string, data any) frameMsg {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return frameMsg{Type: typ, Data: raw}
}

func update(t *testing.T, m model, msg frameMsg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func TestModelStateInit(t *testing.T) {
	m := newModel("ws://test", nil, nil)
	m = update(t, m, mustFrame(t, "state_init", map[string]any{
		"engine_on":    true,
		"actual_ticks": 320,
		"target_ticks": 106,
		"ratio":        map[string]any{"multiplicator": 1, "divisor": 3},
		"sensor_known": true,
		"sensor_min":   50,
		"sensor_max":   200,
	}))

	if !m.connected || !m.engineOn {
		t.Fatalf("connected=%v engineOn=%v, want both true", m.connected, m.engineOn)
	}
	if m.actualTicks != 320 || m.targetTicks != 106 || m.ratio != "1/3" {
		t.Fatalf("rhythm = %d/%d %s, want 320/106 1/3", m.actualTicks, m.targetTicks, m.ratio)
	}
	if !m.sensorKnown || m.sensorMin != 50 || m.sensorMax != 200 {
		t.Fatalf("sensor = %v %d..%d", m.sensorKnown, m.sensorMin, m.sensorMax)
	}
}

func TestModelBangCountsRisingEdges(t *testing.T) {
	m := newModel("ws://test", nil, nil)
	m = update(t, m, mustFrame(t, "bang", map[string]any{"on": true, "rhythm": "primary"}))
	m = update(t, m, mustFrame(t, "bang", map[string]any{"on": false}))
	m = update(t, m, mustFrame(t, "bang", map[string]any{"on": true, "rhythm": "overlay"}))

	if m.bangs != 2 {
		t.Fatalf("bangs = %d, want 2", m.bangs)
	}
	if !m.bangOn || m.bangRhythm != "overlay" {
		t.Fatalf("bangOn=%v rhythm=%q", m.bangOn, m.bangRhythm)
	}
	if !strings.Contains(m.View(), "overlay") {
		t.Fatalf("view does not show the active bang")
	}
}

func TestModelTempoAndCapture(t *testing.T) {
	m := newModel("ws://test", nil, nil)
	m = update(t, m, mustFrame(t, "rhythm_captured", map[string]any{"ticks": 250}))
	m = update(t, m, mustFrame(t, "tempo_changed", map[string]any{"multiplicator": 2, "divisor": 3, "target_ticks": 166}))

	if m.actualTicks != 250 || m.targetTicks != 166 || m.ratio != "2/3" {
		t.Fatalf("rhythm = %d/%d %s", m.actualTicks, m.targetTicks, m.ratio)
	}
	if len(m.log) != 2 {
		t.Fatalf("log = %v, want 2 lines", m.log)
	}
}

func TestModelLogIsBounded(t *testing.T) {
	m := newModel("ws://test", nil, nil)
	for i := 0; i < maxLogLines+5; i++ {
		m = update(t, m, mustFrame(t, "engine_changed", map[string]any{"on": i%2 == 0}))
	}
	if len(m.log) != maxLogLines {
		t.Fatalf("log len = %d, want %d", len(m.log), maxLogLines)
	}
}

func TestModelBadPayloadIsLogged(t *testing.T) {
	m := newModel("ws://test", nil, nil)
	m = update(t, m, frameMsg{Type: "sensor_range", Data: json.RawMessage(`"nope"`)})
	if m.sensorKnown {
		t.Fatalf("sensorKnown set from malformed payload")
	}
	if len(m.log) != 1 || !strings.Contains(m.log[0], "bad sensor_range") {
		t.Fatalf("log = %v", m.log)
	}
}

func TestModelDisconnect(t *testing.T) {
	m := newModel("ws://test", nil, nil)
	m.connected = true
	next, _ := m.Update(disconnectedMsg{err: errors.New("boom")})
	m = next.(model)
	if m.connected || m.err == nil {
		t.Fatalf("connected=%v err=%v", m.connected, m.err)
	}
	if !strings.Contains(m.View(), "boom") {
		t.Fatalf("view does not show the error")
	}
}
