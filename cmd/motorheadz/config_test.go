package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Keys.Bindings[KEY_SPACE] != "tap" || cfg.Keys.Bindings[KEY_ENTER] != "aux" {
		t.Fatalf("default bindings = %v", cfg.Keys.Bindings)
	}
	if cfg.BaseTick() != time.Millisecond {
		t.Fatalf("BaseTick() = %v, want 1ms", cfg.BaseTick())
	}

	rc := cfg.ToRhythmConfig()
	if rc.DefaultLength != 320 || rc.MinLength != 90 || rc.BangDuration != 16 || !rc.EngineOn {
		t.Fatalf("ToRhythmConfig() = %+v", rc)
	}
}

func TestParseConfigOverlaysDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
rhythm:
  default_ticks: 400
sensor:
  ratios:
    - {multiplicator: 1, divisor: 2}
    - {multiplicator: 1, divisor: 1}
actuator:
  outputs: [log, midi]
  midi_port: "IAC"
`))
	if err != nil {
		t.Fatalf("parseConfig() = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Rhythm.DefaultTicks != 400 || cfg.Rhythm.MinTicks != defaultMinRhythm {
		t.Fatalf("rhythm = %+v", cfg.Rhythm)
	}
	if len(cfg.Sensor.Ratios) != 2 || cfg.Sensor.Ratios[0] != (Ratio{1, 2}) {
		t.Fatalf("ratios = %v", cfg.Sensor.Ratios)
	}
	if cfg.Actuator.MIDINote != defaultMIDINote {
		t.Fatalf("midi_note = %d, want default %d", cfg.Actuator.MIDINote, defaultMIDINote)
	}
}

func TestParseConfigRejectsUnknownField(t *testing.T) {
	_, err := parseConfig([]byte("rhythm:\n  defualt_ticks: 400\n"))
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestParseConfigRejectsTrailingDocument(t *testing.T) {
	_, err := parseConfig([]byte("logging:\n  level: debug\n---\nlogging:\n  level: info\n"))
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Fatalf("parseConfig() = %v, want trailing document error", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero divisor", func(c *Config) { c.Sensor.Ratios = []Ratio{{1, 0}} }, "divisor"},
		{"overlay too fast", func(c *Config) { c.Sensor.Ratios = []Ratio{{9, 2}} }, "must not exceed"},
		{"empty ratios", func(c *Config) { c.Sensor.Ratios = nil }, "sensor.ratios"},
		{"fast divider above slow", func(c *Config) { c.Clock.FastDivider = 64 }, "fast_divider"},
		{"default below min", func(c *Config) { c.Rhythm.DefaultTicks = 10 }, "default_ticks"},
		{"min below divisor", func(c *Config) { c.Rhythm.MinTicks = 2; c.Rhythm.DefaultTicks = 2 }, "min_ticks"},
		{"max too large", func(c *Config) { c.Rhythm.MaxTicks = maxRhythmTicks + 1 }, "max_ticks"},
		{"zero bang", func(c *Config) { c.Rhythm.BangDurationTicks = 0 }, "bang_duration_ticks"},
		{"unknown sensor", func(c *Config) { c.Sensor.Source = "adc" }, "sensor.source"},
		{"serial sensor without device", func(c *Config) { c.Sensor.Source = SensorSourceSerial }, "serial_device"},
		{"unknown output", func(c *Config) { c.Actuator.Outputs = []string{"gpio"} }, "unknown output"},
		{"duplicate output", func(c *Config) { c.Actuator.Outputs = []string{"log", "log"} }, "twice"},
		{"no outputs", func(c *Config) { c.Actuator.Outputs = nil }, "actuator.outputs"},
		{"midi channel", func(c *Config) {
			c.Actuator.Outputs = []string{OutputKindMIDI}
			c.Actuator.MIDIChannel = 16
		}, "midi_channel"},
		{"shared serial device", func(c *Config) {
			c.Sensor.Source = SensorSourceSerial
			c.Sensor.SerialDevice = "/dev/ttyUSB0"
			c.Actuator.Outputs = []string{OutputKindSerial}
			c.Actuator.SerialDevice = "/dev/ttyUSB0"
		}, "must differ"},
		{"bad binding", func(c *Config) { c.Keys.Bindings = map[uint16]string{30: "fire"} }, "fire"},
		{"empty socket", func(c *Config) { c.IPC.SocketPath = "" }, "socket_path"},
		{"ws path", func(c *Config) { c.StateWS.Path = "ws" }, "state_ws.path"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestValidateDisabledWSIgnoresPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateWS.Listen = ""
	cfg.StateWS.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestFlagOverridesOnlyApplyWhenSet(t *testing.T) {
	cfg := DefaultConfig()
	empty := ""
	debug := "debug"
	FlagOverrides{LogLevel: &debug, WSListen: &empty}.Apply(&cfg)

	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.StateWS.Listen != "" {
		t.Fatalf("ws listen = %q, want disabled", cfg.StateWS.Listen)
	}
	if cfg.IPC.SocketPath != "/tmp/motorheadz.sock" {
		t.Fatalf("socket path changed without override: %q", cfg.IPC.SocketPath)
	}
	FlagOverrides{}.Apply(nil)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motorheadz.yaml")
	if err := os.WriteFile(path, []byte("clock:\n  base_tick_us: 500\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() = %v", err)
	}
	if cfg.BaseTick() != 500*time.Microsecond {
		t.Fatalf("BaseTick() = %v, want 500µs", cfg.BaseTick())
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x.yaml"); got != filepath.Join(home, "x.yaml") {
		t.Fatalf("ExpandPath(~/x.yaml) = %q", got)
	}
	if got := ExpandPath("/etc/x.yaml"); got != "/etc/x.yaml" {
		t.Fatalf("ExpandPath(/etc/x.yaml) = %q", got)
	}
}
