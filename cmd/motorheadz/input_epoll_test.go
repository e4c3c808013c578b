//go:build linux

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestReadInputDevicesEpoll(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	lines := NewKeyLines()
	bindings := testBindings(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- readInputDevices(ctx, []*os.File{r}, bindings, lines, logger) }()

	if _, err := w.Write(encodeInputEvent(t, inputEvent{Type: EV_KEY, Code: KEY_SPACE, Value: evValuePress})); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 2*time.Second, func() bool { return lines.Pressed() == KeyTap }, "tap press not applied")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("readInputDevices() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("readInputDevices did not stop after cancel")
	}
}

func TestReadInputDevicesRequiresFiles(t *testing.T) {
	if err := readInputDevices(context.Background(), nil, nil, NewKeyLines(), slog.Default()); err == nil {
		t.Fatalf("expected error without devices")
	}
}
