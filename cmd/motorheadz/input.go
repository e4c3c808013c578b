package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// KeyBindings maps Linux key codes to logical keys.
type KeyBindings map[uint16]KeyMask

// parseBindings resolves the configured key code to key name table.
func parseBindings(raw map[uint16]string) (KeyBindings, error) {
	b := make(KeyBindings, len(raw))
	for code, name := range raw {
		k, err := parseKeyName(name)
		if err != nil {
			return nil, fmt.Errorf("keys.bindings[%d]: %w", code, err)
		}
		b[code] = k
	}
	return b, nil
}

// applyInputEvent moves the key lines for one evdev event. Autorepeat events
// are ignored: repeat timing belongs to the debouncer. Returns true if the
// event was bound to a key.
func applyInputEvent(ev inputEvent, bindings KeyBindings, lines *KeyLines) bool {
	if ev.Type != EV_KEY {
		return false
	}
	key, ok := bindings[ev.Code]
	if !ok {
		return false
	}
	switch ev.Value {
	case evValuePress:
		lines.Press(key)
	case evValueRelease:
		lines.Release(key)
	case evValueRepeat:
	}
	return true
}

// decodeInputEvent parses one raw event record.
func decodeInputEvent(reader *bytes.Reader, buf []byte) (inputEvent, error) {
	reader.Reset(buf)
	var ev inputEvent
	err := binary.Read(reader, binary.LittleEndian, &ev)
	return ev, err
}

// readInputEvents reads input events from f until it fails and applies them
// to lines. One goroutine per device; used where epoll is not available.
func readInputEvents(f *os.File, bindings KeyBindings, lines *KeyLines, logger *slog.Logger) error {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read from %s: %w", f.Name(), err)
		}

		ev, err := decodeInputEvent(reader, buf)
		if err != nil {
			// Skip malformed events
			continue
		}

		if applyInputEvent(ev, bindings, lines) {
			logger.Debug("key input", "device", f.Name(), "code", ev.Code, "value", ev.Value)
		}
	}
}

// openInputDevices opens every configured device. On error the devices opened
// so far are closed.
func openInputDevices(paths []string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			for _, o := range files {
				_ = o.Close()
			}
			return nil, fmt.Errorf("open input device %s: %w", p, err)
		}
		files = append(files, f)
	}
	return files, nil
}
