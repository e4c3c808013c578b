package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub, observer connections, broadcaster
// ============================================================================
//
// Observers (the monitor TUI, dashboards) subscribe here:
//   - A Hub tracks connected observers. Each has its own write loop, and an
//     observer whose queue fills up is dropped.
//   - The first message on connect is "state_init", built by the scheduler
//     loop on request so it is coherent with the running rhythm.
//   - After that, scheduler broadcasts are fanned out as {type, ts, data}
//     envelopes. Retuning and sensor range updates can arrive in bursts while
//     the sensor settles; those are coalesced latest-wins per type.
//
// ============================================================================

// wsBangData is the JSON `data` payload for "bang".
type wsBangData struct {
	On     bool   `json:"on"`
	Rhythm string `json:"rhythm,omitempty"`
}

// wsEngineData is the JSON `data` payload for "engine_changed" and "sync_changed".
type wsEngineData struct {
	On bool `json:"on"`
}

// wsRhythmCapturedData is the JSON `data` payload for "rhythm_captured".
type wsRhythmCapturedData struct {
	Ticks uint16 `json:"ticks"`
}

// wsTempoChangedData is the JSON `data` payload for "tempo_changed".
type wsTempoChangedData struct {
	Multiplicator uint8  `json:"multiplicator"`
	Divisor       uint8  `json:"divisor"`
	TargetTicks   uint16 `json:"target_ticks"`
}

// wsSensorRangeData is the JSON `data` payload for "sensor_range".
type wsSensorRangeData struct {
	Min uint8 `json:"min"`
	Max uint8 `json:"max"`
}

// wsEvent is one outbound state event before serialization.
type wsEvent struct {
	Type string
	Data any
	At   time.Time // zero means now
}

// wsFrame is the wire format of every message on /ws/state.
type wsFrame struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPongTimeout  = 30 * time.Second
	wsPingEvery    = 20 * time.Second

	// wsCoalesceWindow is the flush period for coalesced broadcast types.
	wsCoalesceWindow = 50 * time.Millisecond

	defaultObserverQueue = 32
	defaultFrameQueue    = 128
)

// ============================================================================
// Hub
// ============================================================================

// Hub fans serialized frames out to every connected observer.
//
// mu guards membership. An observer's queue is only closed after it has been
// removed under mu, so every send to a queue happens with mu held and after a
// membership check. Nothing outside Run ever waits on a hub channel.
type Hub struct {
	logger *slog.Logger

	frames chan []byte

	mu        sync.Mutex
	observers map[*observer]struct{}
	stopped   bool // set once Run has dropped everyone; add fails after that

	queueLen int
}

type HubConfig struct {
	// ObserverQueue is how many frames an observer may lag before it is
	// dropped. Zero selects defaultObserverQueue.
	ObserverQueue int

	// FrameQueue buffers frames waiting for fan-out. Zero selects
	// defaultFrameQueue.
	FrameQueue int
}

func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	queueLen := cfg.ObserverQueue
	if queueLen <= 0 {
		queueLen = defaultObserverQueue
	}
	frameQueue := cfg.FrameQueue
	if frameQueue <= 0 {
		frameQueue = defaultFrameQueue
	}
	return &Hub{
		logger:    logger,
		frames:    make(chan []byte, frameQueue),
		observers: make(map[*observer]struct{}),
		queueLen:  queueLen,
	}
}

// Run fans out published frames until ctx is done, then drops every observer.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")
	defer h.dropAll()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping")
			return
		case msg := <-h.frames:
			for _, o := range h.fanOut(msg) {
				h.drop(o, "lagging")
			}
		}
	}
}

// fanOut queues msg on every observer and returns the ones whose queue was
// full.
func (h *Hub) fanOut(msg []byte) (lagging []*observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		select {
		case o.out <- msg:
		default:
			lagging = append(lagging, o)
		}
	}
	return lagging
}

// add joins o. It reports false once the hub has shut down.
func (h *Hub) add(o *observer) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.observers[o] = struct{}{}
	n := len(h.observers)
	h.mu.Unlock()

	h.logger.Info("ws observer joined", "remote_addr", o.addr, "observers", n)
	return true
}

// greet queues msg for o alone. An observer that already left is skipped;
// one whose queue is full is dropped.
func (h *Hub) greet(o *observer, msg []byte) {
	h.mu.Lock()
	_, member := h.observers[o]
	queued := false
	if member {
		select {
		case o.out <- msg:
			queued = true
		default:
		}
	}
	h.mu.Unlock()

	if member && !queued {
		h.drop(o, "lagging")
	}
}

// drop removes o and closes its queue. Safe from any goroutine and for
// observers that already left.
func (h *Hub) drop(o *observer, reason string) {
	h.mu.Lock()
	_, member := h.observers[o]
	delete(h.observers, o)
	n := len(h.observers)
	h.mu.Unlock()

	if member {
		o.close()
		h.logger.Info("ws observer dropped", "remote_addr", o.addr, "reason", reason, "observers", n)
	}
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	all := h.observers
	h.observers = make(map[*observer]struct{})
	h.stopped = true
	h.mu.Unlock()
	for o := range all {
		o.close()
	}
}

// Observers reports how many observers are currently joined.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Publish queues a serialized frame for fan-out. It never blocks; a full
// queue drops the frame.
func (h *Hub) Publish(msg []byte) {
	select {
	case h.frames <- msg:
	default:
		h.logger.Warn("ws frame queue full, dropping frame", "bytes", len(msg))
	}
}

// ============================================================================
// Observer connection
// ============================================================================

type observer struct {
	hub  *Hub
	conn *websocket.Conn // nil in hub tests
	out  chan []byte
	addr string

	closeOnce sync.Once
}

func (h *Hub) newObserver(conn *websocket.Conn, addr string) *observer {
	return &observer{hub: h, conn: conn, out: make(chan []byte, h.queueLen), addr: addr}
}

// close ends the write loop by closing out. Safe to call more than once.
func (o *observer) close() {
	o.closeOnce.Do(func() {
		if o.conn != nil {
			_ = o.conn.Close()
		}
		close(o.out)
	})
}

func (o *observer) logExit(loop string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	log := o.hub.logger.With("remote_addr", o.addr, "loop", loop)
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		log.Info("ws observer closed", "code", ce.Code, "reason", ce.Text)
		return
	}
	log.Info("ws observer connection error", "error", err)
}

// writeLoop sends queued frames and keepalive pings until out is closed or
// a write fails.
func (o *observer) writeLoop() {
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		var err error
		select {
		case msg, ok := <-o.out:
			_ = o.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			err = o.conn.WriteMessage(websocket.TextMessage, msg)
		case <-ping.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err = o.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			o.logExit("write", err)
			return
		}
	}
}

// readLoop discards inbound frames so pongs and close frames are processed,
// and leaves the hub when the peer goes away.
func (o *observer) readLoop() {
	_ = o.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			o.logExit("read", err)
			o.hub.drop(o, "left")
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger
	hub    *Hub

	// Snapshot requests for state_init go to the scheduler loop.
	requests chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer wires the state endpoint. The caller runs Hub().Run and
// RunBroadcaster alongside the HTTP server.
func NewServer(logger *slog.Logger, requests chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger:   logger,
		hub:      NewHub(logger, cfg.Hub),
		requests: requests,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// Observers run on the same LAN as the device; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS joins the observer to the hub, then queues state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	o := s.hub.newObserver(conn, r.RemoteAddr)

	// Join before taking the snapshot so no change between the two is lost.
	if !s.hub.add(o) {
		_ = conn.Close()
		return
	}
	go o.writeLoop()
	go o.readLoop()

	if s.requests == nil {
		return
	}
	snap, err := s.requestSnapshot(r.Context())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalWSEvent(wsEvent{Type: "state_init", Data: snap})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	// The peer may have gone while the snapshot was pending.
	s.hub.greet(o, initMsg)
}

func (s *Server) requestSnapshot(ctx context.Context) (StateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, ipcSnapshotTimeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case s.requests <- RequestStateSnapshot{Reply: reply}:
	}
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// coalescedTypes are flushed at most once per wsCoalesceWindow, latest-wins,
// in this order. Every other type is sent immediately.
var coalescedTypes = []string{"tempo_changed", "sensor_range"}

func isCoalesced(typ string) bool {
	for _, t := range coalescedTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// RunBroadcaster reads scheduler broadcasts, marshals them, and broadcasts
// them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Periodic flush (no debounce-on-silence): a steady stream of updates is
	// still delivered every window.
	pending := make(map[string]wsEvent)
	var timer *time.Timer
	var timerCh <-chan time.Time

	send := func(ev wsEvent) {
		msg, err := marshalWSEvent(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.Publish(msg)
	}

	flushPending := func() {
		for _, typ := range coalescedTypes {
			if ev, ok := pending[typ]; ok {
				delete(pending, typ)
				send(ev)
			}
		}
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			stopTimer()

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			ev.At = time.Now().UTC()

			if isCoalesced(ev.Type) {
				pending[ev.Type] = ev
				if timer == nil {
					timer = time.NewTimer(wsCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			// Keep ordering: anything coalesced before this event goes out first.
			flushPending()
			stopTimer()
			send(ev)
		}
	}
}

func marshalWSEvent(ev wsEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(wsFrame{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

func convertBroadcast(b StateBroadcast) (wsEvent, bool) {
	switch ev := b.(type) {
	case BroadcastBang:
		return wsEvent{Type: "bang", Data: wsBangData{On: ev.On, Rhythm: ev.Rhythm}}, true

	case BroadcastEngineChanged:
		return wsEvent{Type: "engine_changed", Data: wsEngineData{On: ev.On}}, true

	case BroadcastSyncChanged:
		return wsEvent{Type: "sync_changed", Data: wsEngineData{On: ev.On}}, true

	case BroadcastRhythmCaptured:
		return wsEvent{Type: "rhythm_captured", Data: wsRhythmCapturedData{Ticks: ev.Ticks}}, true

	case BroadcastTempoChanged:
		return wsEvent{Type: "tempo_changed", Data: wsTempoChangedData{
			Multiplicator: ev.Ratio.Multiplicator,
			Divisor:       ev.Ratio.Divisor,
			TargetTicks:   ev.TargetTicks,
		}}, true

	case BroadcastSensorRange:
		return wsEvent{Type: "sensor_range", Data: wsSensorRangeData{Min: ev.Min, Max: ev.Max}}, true

	default:
		return wsEvent{}, false
	}
}
