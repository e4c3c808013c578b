package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the motorheadz daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. The config file is the primary surface; flags only
// override a handful of fields.
type Config struct {
	Clock    ClockConfig      `yaml:"clock"`
	Keys     KeysConfig       `yaml:"keys"`
	Rhythm   RhythmFileConfig `yaml:"rhythm"`
	Sensor   SensorConfig     `yaml:"sensor"`
	Actuator ActuatorConfig   `yaml:"actuator"`
	IPC      IPCConfig        `yaml:"ipc"`
	StateWS  StateWSConfig    `yaml:"state_ws"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// ClockConfig sets the base timer and its dividers.
type ClockConfig struct {
	BaseTickMicros int `yaml:"base_tick_us"`
	FastDivider    int `yaml:"fast_divider"`
	SlowDivider    int `yaml:"slow_divider"`
}

type KeysConfig struct {
	RepeatStart int `yaml:"repeat_start"` // slow ticks before the first long event
	RepeatNext  int `yaml:"repeat_next"`  // slow ticks between repeated long events

	// Devices are Linux input devices to read key events from. Empty means
	// keys are only driven over IPC.
	Devices []string `yaml:"devices,omitempty"`

	// Bindings maps evdev key codes to "tap" or "aux". Empty means the
	// default bindings (space = tap, enter = aux).
	Bindings map[uint16]string `yaml:"bindings,omitempty"`
}

// RhythmFileConfig is the YAML form of RhythmConfig.
type RhythmFileConfig struct {
	DefaultTicks      int  `yaml:"default_ticks"`
	MinTicks          int  `yaml:"min_ticks"`
	MaxTicks          int  `yaml:"max_ticks"`
	BangDurationTicks int  `yaml:"bang_duration_ticks"`
	EngineOn          bool `yaml:"engine_on"`
	SyncOverlay       bool `yaml:"sync_overlay"`
}

type SensorConfig struct {
	Source      string `yaml:"source"` // "static" or "serial"
	StaticValue uint8  `yaml:"static_value"`

	SerialDevice    string `yaml:"serial_device,omitempty"`
	SerialBaud      int    `yaml:"serial_baud"`
	SerialTimeoutMS int    `yaml:"serial_timeout_ms"`

	// Ratios is the segment table, darkest segment first.
	Ratios []Ratio `yaml:"ratios"`
}

type ActuatorConfig struct {
	Outputs []string `yaml:"outputs"` // any of "log", "midi", "serial"

	MIDIPort     string `yaml:"midi_port,omitempty"`
	MIDIChannel  uint8  `yaml:"midi_channel"`
	MIDINote     uint8  `yaml:"midi_note"`
	MIDIVelocity uint8  `yaml:"midi_velocity"`

	SerialDevice string `yaml:"serial_device,omitempty"`
	SerialBaud   int    `yaml:"serial_baud"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// StateWSConfig configures the state websocket. An empty Listen disables it.
type StateWSConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// defaultBindings is used when keys.bindings is empty.
func defaultBindings() map[uint16]string {
	return map[uint16]string{
		KEY_SPACE: "tap",
		KEY_ENTER: "aux",
	}
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Clock: ClockConfig{
			BaseTickMicros: defaultBaseTickMicros,
			FastDivider:    defaultFastDivider,
			SlowDivider:    defaultSlowDivider,
		},
		Keys: KeysConfig{
			RepeatStart: defaultRepeatStart,
			RepeatNext:  defaultRepeatNext,
		},
		Rhythm: RhythmFileConfig{
			DefaultTicks:      defaultRhythmTicks,
			MinTicks:          defaultMinRhythm,
			MaxTicks:          maxRhythmTicks,
			BangDurationTicks: defaultBangDuration,
			EngineOn:          true,
			SyncOverlay:       false,
		},
		Sensor: SensorConfig{
			Source:          SensorSourceStatic,
			StaticValue:     128,
			SerialBaud:      defaultSerialBaud,
			SerialTimeoutMS: defaultSerialTimeoutMS,
			Ratios:          append([]Ratio(nil), defaultRatioTable...),
		},
		Actuator: ActuatorConfig{
			Outputs:      []string{OutputKindLog},
			MIDIChannel:  defaultMIDIChannel,
			MIDINote:     defaultMIDINote,
			MIDIVelocity: defaultMIDIVelocity,
			SerialBaud:   defaultSerialBaud,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/motorheadz.sock",
		},
		StateWS: StateWSConfig{
			Listen: "127.0.0.1:3002",
			Path:   "/ws/state",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true), and
// so is a second YAML document in the same file.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flags that were explicitly set on the command line.
// A nil pointer means the flag was not given; a non-nil pointer is applied
// even if it holds the zero value.
type FlagOverrides struct {
	LogLevel      *string
	IPCSocketPath *string
	WSListen      *string
	SensorSource  *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.WSListen != nil {
		cfg.StateWS.Listen = *o.WSListen
	}
	if o.SensorSource != nil {
		cfg.Sensor.Source = *o.SensorSource
	}
}

// Validate checks config invariants and returns a user-friendly error. It
// also fills in derived defaults (bindings). Call it after defaults, file and
// overrides are applied.
func (c *Config) Validate() error {
	// Clock
	if c.Clock.BaseTickMicros < 50 || c.Clock.BaseTickMicros > 100000 {
		return errors.New("clock.base_tick_us must be between 50 and 100000")
	}
	if c.Clock.SlowDivider < 1 || c.Clock.SlowDivider > 255 {
		return errors.New("clock.slow_divider must be between 1 and 255")
	}
	if c.Clock.FastDivider < 1 || c.Clock.FastDivider > c.Clock.SlowDivider {
		return errors.New("clock.fast_divider must be between 1 and clock.slow_divider")
	}

	// Keys
	if c.Keys.RepeatStart < 1 || c.Keys.RepeatStart > 255 {
		return errors.New("keys.repeat_start must be between 1 and 255")
	}
	if c.Keys.RepeatNext < 1 || c.Keys.RepeatNext > 255 {
		return errors.New("keys.repeat_next must be between 1 and 255")
	}
	for i, dev := range c.Keys.Devices {
		if dev == "" {
			return fmt.Errorf("keys.devices[%d] is empty", i)
		}
	}
	if len(c.Keys.Bindings) == 0 {
		c.Keys.Bindings = defaultBindings()
	}
	if _, err := parseBindings(c.Keys.Bindings); err != nil {
		return err
	}

	// Sensor
	switch c.Sensor.Source {
	case SensorSourceStatic:
	case SensorSourceSerial:
		if c.Sensor.SerialDevice == "" {
			return errors.New("sensor.source is serial but sensor.serial_device is empty")
		}
		if c.Sensor.SerialBaud <= 0 {
			return errors.New("sensor.serial_baud must be > 0")
		}
		if c.Sensor.SerialTimeoutMS < 1 || c.Sensor.SerialTimeoutMS > 1000 {
			return errors.New("sensor.serial_timeout_ms must be between 1 and 1000")
		}
	default:
		return fmt.Errorf("sensor.source must be %q or %q", SensorSourceStatic, SensorSourceSerial)
	}
	if len(c.Sensor.Ratios) == 0 {
		return errors.New("sensor.ratios must not be empty")
	}
	largestDivisor := 0
	for i, r := range c.Sensor.Ratios {
		if r.Divisor < 1 {
			return fmt.Errorf("sensor.ratios[%d].divisor must be >= 1", i)
		}
		if r.Multiplicator < 1 {
			return fmt.Errorf("sensor.ratios[%d].multiplicator must be >= 1", i)
		}
		if int(r.Multiplicator) > maxOverlayFactor*int(r.Divisor) {
			return fmt.Errorf("sensor.ratios[%d] must not exceed %d/1", i, maxOverlayFactor)
		}
		if int(r.Divisor) > largestDivisor {
			largestDivisor = int(r.Divisor)
		}
	}

	// Rhythm
	if c.Rhythm.MaxTicks < 1 || c.Rhythm.MaxTicks > maxRhythmTicks {
		return fmt.Errorf("rhythm.max_ticks must be between 1 and %d", maxRhythmTicks)
	}
	if c.Rhythm.MinTicks < largestDivisor || c.Rhythm.MinTicks > c.Rhythm.MaxTicks {
		return fmt.Errorf("rhythm.min_ticks must be between the largest ratio divisor (%d) and rhythm.max_ticks", largestDivisor)
	}
	if c.Rhythm.DefaultTicks < c.Rhythm.MinTicks || c.Rhythm.DefaultTicks > c.Rhythm.MaxTicks {
		return errors.New("rhythm.default_ticks must be between rhythm.min_ticks and rhythm.max_ticks")
	}
	if c.Rhythm.BangDurationTicks < 1 || c.Rhythm.BangDurationTicks > maxBangDuration {
		return fmt.Errorf("rhythm.bang_duration_ticks must be between 1 and %d", maxBangDuration)
	}

	// Actuator
	if len(c.Actuator.Outputs) == 0 {
		return errNoOutputs
	}
	seen := make(map[string]bool)
	for i, kind := range c.Actuator.Outputs {
		switch kind {
		case OutputKindLog, OutputKindMIDI, OutputKindSerial:
		default:
			return fmt.Errorf("actuator.outputs[%d]: unknown output %q (must be log, midi or serial)", i, kind)
		}
		if seen[kind] {
			return fmt.Errorf("actuator.outputs[%d]: %q listed twice", i, kind)
		}
		seen[kind] = true
	}
	if seen[OutputKindMIDI] {
		if c.Actuator.MIDIChannel > 15 {
			return errors.New("actuator.midi_channel must be between 0 and 15")
		}
		if c.Actuator.MIDINote > 127 {
			return errors.New("actuator.midi_note must be between 0 and 127")
		}
		if c.Actuator.MIDIVelocity < 1 || c.Actuator.MIDIVelocity > 127 {
			return errors.New("actuator.midi_velocity must be between 1 and 127")
		}
	}
	if seen[OutputKindSerial] {
		if c.Actuator.SerialDevice == "" {
			return errors.New("actuator.outputs has serial but actuator.serial_device is empty")
		}
		if c.Actuator.SerialBaud <= 0 {
			return errors.New("actuator.serial_baud must be > 0")
		}
		if c.Sensor.Source == SensorSourceSerial && c.Sensor.SerialDevice == c.Actuator.SerialDevice {
			return errors.New("actuator.serial_device and sensor.serial_device must differ")
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// State websocket
	if c.StateWS.Listen != "" && !strings.HasPrefix(c.StateWS.Path, "/") {
		return errors.New("state_ws.path must start with /")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToRhythmConfig converts the file config into the tempo controller config.
func (c *Config) ToRhythmConfig() RhythmConfig {
	return RhythmConfig{
		DefaultLength: uint16(c.Rhythm.DefaultTicks),
		MinLength:     uint16(c.Rhythm.MinTicks),
		MaxLength:     uint16(c.Rhythm.MaxTicks),
		BangDuration:  uint16(c.Rhythm.BangDurationTicks),
		EngineOn:      c.Rhythm.EngineOn,
		SyncOverlay:   c.Rhythm.SyncOverlay,
	}
}

// BaseTick returns the base timer period.
func (c *Config) BaseTick() time.Duration {
	return time.Duration(c.Clock.BaseTickMicros) * time.Microsecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
