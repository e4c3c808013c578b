package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// Control socket
// ============================================================================
// The control socket lets local tools press keys, inject sensor samples and read
// the current state. Key events act on the key lines exactly like an evdev
// device would; the debouncer sees no difference.
//
// One JSON object per line in each direction. A request is an event envelope
// such as {"type":"key_down","data":{"key":"tap"}}; every request gets
// {"status":"ok"} or {"status":"error","error":"..."} back, and get_state
// answers also carry "state".
// ============================================================================

// IPCResponse is the reply to one request line.
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	State  *StateSnapshot `json:"state,omitempty"`
}

// ipcSnapshotTimeout bounds the wait for the scheduler to answer get_state.
const ipcSnapshotTimeout = 1 * time.Second

// ipcHandler applies IPC events to the daemon.
type ipcHandler struct {
	lines    *KeyLines
	sensor   SensorSource
	requests chan<- Event
	logger   *slog.Logger
}

// handle applies one event and builds the response.
func (h *ipcHandler) handle(ctx context.Context, ev Event) IPCResponse {
	switch e := ev.(type) {
	case KeyDown:
		k, err := parseKeyName(e.Key)
		if err != nil {
			return ipcError(err)
		}
		h.lines.Press(k)
		h.logger.Debug("IPC key down", "key", e.Key)

	case KeyUp:
		k, err := parseKeyName(e.Key)
		if err != nil {
			return ipcError(err)
		}
		h.lines.Release(k)
		h.logger.Debug("IPC key up", "key", e.Key)

	case SensorSample:
		setter, ok := h.sensor.(sampleSetter)
		if !ok {
			return ipcError(errors.New("sensor source does not accept samples (use sensor.source: static)"))
		}
		setter.Set(e.Value)

	case GetState:
		snap, err := h.requestSnapshot(ctx)
		if err != nil {
			return ipcError(err)
		}
		return IPCResponse{Status: "ok", State: &snap}

	default:
		return ipcError(fmt.Errorf("unsupported event type: %T", ev))
	}

	return IPCResponse{Status: "ok"}
}

func (h *ipcHandler) requestSnapshot(ctx context.Context) (StateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, ipcSnapshotTimeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case h.requests <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("request state: %w", ctx.Err())
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("wait for state: %w", ctx.Err())
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// runIPCServer serves the control socket until ctx is canceled, then removes
// the socket file.
func runIPCServer(ctx context.Context, socketPath string, h *ipcHandler, logger *slog.Logger) error {
	// A stale socket from a crashed run would make Listen fail.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener is what unblocks Accept on shutdown.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, h, logger)
	}
}

// handleIPCConnection serves request lines until the peer hangs up.
func handleIPCConnection(ctx context.Context, conn net.Conn, h *ipcHandler, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		var response IPCResponse
		ev, err := UnmarshalEvent([]byte(line))
		if err != nil {
			response = ipcError(fmt.Errorf("parse event: %w", err))
		} else {
			response = h.handle(ctx, ev)
		}

		if encErr := encoder.Encode(response); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// ============================================================================
// Client side
// ============================================================================

// sendIPCEvent sends one event over a fresh connection. A status of "error"
// is returned as both the response and a non-nil error.
func sendIPCEvent(socketPath string, ev Event) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalEvent(ev)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp IPCResponse
	if err := decoder.Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}

	return resp, nil
}
