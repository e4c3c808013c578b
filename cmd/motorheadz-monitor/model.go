package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	bangStyle   = lipgloss.NewStyle().Reverse(true).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#c33"))
)

// maxLogLines is how many recent events the view keeps.
const maxLogLines = 8

// frame is one state websocket message.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// stateInit mirrors the daemon's state snapshot.
type stateInit struct {
	EngineOn    bool     `json:"engine_on"`
	BangActive  bool     `json:"bang_active"`
	SyncOverlay bool     `json:"sync_overlay"`
	ActualTicks uint16   `json:"actual_ticks"`
	TargetTicks uint16   `json:"target_ticks"`
	Ratio       ratio    `json:"ratio"`
	SensorKnown bool     `json:"sensor_known"`
	SensorMin   uint8    `json:"sensor_min"`
	SensorMax   uint8    `json:"sensor_max"`
	SensorLast  uint8    `json:"sensor_last"`
	Position    int      `json:"position"`
	HeldKeys    []string `json:"held_keys"`
}

type ratio struct {
	Multiplicator uint8 `json:"multiplicator"`
	Divisor       uint8 `json:"divisor"`
}

func (r ratio) String() string { return fmt.Sprintf("%d/%d", r.Multiplicator, r.Divisor) }

type onData struct {
	On     bool   `json:"on"`
	Rhythm string `json:"rhythm,omitempty"`
}

type capturedData struct {
	Ticks uint16 `json:"ticks"`
}

type tempoData struct {
	Multiplicator uint8  `json:"multiplicator"`
	Divisor       uint8  `json:"divisor"`
	TargetTicks   uint16 `json:"target_ticks"`
}

type rangeData struct {
	Min uint8 `json:"min"`
	Max uint8 `json:"max"`
}

type frameMsg frame
type disconnectedMsg struct{ err error }

type model struct {
	frames <-chan frame
	errs   <-chan error
	url    string

	connected bool
	err       error

	engineOn    bool
	syncOverlay bool
	bangOn      bool
	bangRhythm  string
	bangs       int

	actualTicks uint16
	targetTicks uint16
	ratio       string

	sensorKnown bool
	sensorMin   uint8
	sensorMax   uint8

	log      []string
	quitting bool
}

func newModel(url string, frames <-chan frame, errs <-chan error) model {
	return model{url: url, frames: frames, errs: errs, ratio: "-"}
}

func listenForFrames(frames <-chan frame, errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		select {
		case f, ok := <-frames:
			if !ok {
				return disconnectedMsg{}
			}
			return frameMsg(f)
		case err := <-errs:
			return disconnectedMsg{err: err}
		}
	}
}

func (m model) Init() tea.Cmd {
	return listenForFrames(m.frames, m.errs)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.log = nil
			m.bangs = 0
		}

	case frameMsg:
		m = m.apply(frame(msg))
		return m, listenForFrames(m.frames, m.errs)

	case disconnectedMsg:
		m.connected = false
		m.err = msg.err
		if m.err == nil {
			m.err = fmt.Errorf("connection closed")
		}
	}

	return m, nil
}

// apply folds one frame into the model. Unknown or malformed frames are logged
// and otherwise ignored.
func (m model) apply(f frame) model {
	var err error
	switch f.Type {
	case "state_init":
		var s stateInit
		if err = json.Unmarshal(f.Data, &s); err == nil {
			m.connected = true
			m.err = nil
			m.engineOn = s.EngineOn
			m.syncOverlay = s.SyncOverlay
			m.bangOn = s.BangActive
			m.actualTicks = s.ActualTicks
			m.targetTicks = s.TargetTicks
			m.ratio = s.Ratio.String()
			m.sensorKnown = s.SensorKnown
			m.sensorMin = s.SensorMin
			m.sensorMax = s.SensorMax
			m = m.logf("connected: %d ticks, ratio %s", s.ActualTicks, m.ratio)
		}

	case "bang":
		var d onData
		if err = json.Unmarshal(f.Data, &d); err == nil {
			m.bangOn = d.On
			if d.On {
				m.bangs++
				m.bangRhythm = d.Rhythm
			}
		}

	case "engine_changed":
		var d onData
		if err = json.Unmarshal(f.Data, &d); err == nil {
			m.engineOn = d.On
			m = m.logf("overlay rhythm %s", onOff(d.On))
		}

	case "sync_changed":
		var d onData
		if err = json.Unmarshal(f.Data, &d); err == nil {
			m.syncOverlay = d.On
			m = m.logf("overlay sync %s", onOff(d.On))
		}

	case "rhythm_captured":
		var d capturedData
		if err = json.Unmarshal(f.Data, &d); err == nil {
			m.actualTicks = d.Ticks
			m = m.logf("rhythm captured: %d ticks", d.Ticks)
		}

	case "tempo_changed":
		var d tempoData
		if err = json.Unmarshal(f.Data, &d); err == nil {
			m.ratio = ratio{Multiplicator: d.Multiplicator, Divisor: d.Divisor}.String()
			m.targetTicks = d.TargetTicks
			m = m.logf("overlay %s: %d ticks", m.ratio, d.TargetTicks)
		}

	case "sensor_range":
		var d rangeData
		if err = json.Unmarshal(f.Data, &d); err == nil {
			m.sensorKnown = true
			m.sensorMin = d.Min
			m.sensorMax = d.Max
		}

	default:
		return m.logf("unknown event %q", f.Type)
	}

	if err != nil {
		m = m.logf("bad %s payload: %v", f.Type, err)
	}
	return m
}

func (m model) logf(format string, args ...any) model {
	line := fmt.Sprintf(format, args...)
	log := append(append([]string(nil), m.log...), line)
	if len(log) > maxLogLines {
		log = log[len(log)-maxLogLines:]
	}
	m.log = log
	return m
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	conn := activeStyle.Render("● " + m.url)
	if !m.connected {
		conn = dimStyle.Render("○ " + m.url)
	}
	b.WriteString("\n" + conn + "\n\n")

	lamp := dimStyle.Render("  ·  ")
	if m.bangOn {
		label := m.bangRhythm
		if label == "" {
			label = "bang"
		}
		lamp = bangStyle.Render(fmt.Sprintf(" %-7s ", label))
	}
	b.WriteString(lamp + "\n\n")

	b.WriteString(statusStyle.Render(fmt.Sprintf("rhythm %5d ticks   overlay %-5s %5d ticks   bangs %d",
		m.actualTicks, m.ratio, m.targetTicks, m.bangs)) + "\n")

	sensor := "sensor -"
	if m.sensorKnown {
		sensor = fmt.Sprintf("sensor %3d..%-3d", m.sensorMin, m.sensorMax)
	}
	b.WriteString(statusStyle.Render(fmt.Sprintf("engine %-3s   sync %-3s   %s",
		onOff(m.engineOn), onOff(m.syncOverlay), sensor)) + "\n\n")

	for _, line := range m.log {
		b.WriteString(dimStyle.Render(line) + "\n")
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
	}

	b.WriteString("\n" + dimStyle.Render("c:clear  q:quit") + "\n")
	return b.String()
}
