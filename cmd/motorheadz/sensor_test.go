package main

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

// fakeSerialPort answers every request byte with the next reply. Methods the
// sensor does not call panic through the nil embedded Port.
type fakeSerialPort struct {
	serial.Port

	replies  []byte
	written  []byte
	resets   int
	writeErr error
	closed   bool
}

func (p *fakeSerialPort) ResetInputBuffer() error {
	p.resets++
	return nil
}

func (p *fakeSerialPort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakeSerialPort) Read(b []byte) (int, error) {
	if len(p.replies) == 0 {
		return 0, nil // read timeout
	}
	b[0] = p.replies[0]
	p.replies = p.replies[1:]
	return 1, nil
}

func (p *fakeSerialPort) Close() error {
	p.closed = true
	return nil
}

func TestStaticSensor(t *testing.T) {
	s := newStaticSensor(42)
	if v, err := s.Convert(); err != nil || v != 42 {
		t.Fatalf("Convert() = %d, %v; want 42", v, err)
	}
	var setter sampleSetter = s
	setter.Set(200)
	if v, _ := s.Convert(); v != 200 {
		t.Fatalf("Convert() after Set = %d, want 200", v)
	}
}

func TestSerialSensorConvert(t *testing.T) {
	port := &fakeSerialPort{replies: []byte{17, 230}}
	s := newSerialSensor(port, "/dev/ttyACM0")

	for _, want := range []uint8{17, 230} {
		v, err := s.Convert()
		if err != nil || v != want {
			t.Fatalf("Convert() = %d, %v; want %d", v, err, want)
		}
	}
	if string(port.written) != "SS" || port.resets != 2 {
		t.Fatalf("written %q, resets %d; want \"SS\" and 2", port.written, port.resets)
	}

	if _, err := s.Convert(); !errors.Is(err, errSensorTimeout) {
		t.Fatalf("Convert() without reply = %v, want errSensorTimeout", err)
	}

	port.writeErr = errors.New("unplugged")
	if _, err := s.Convert(); err == nil {
		t.Fatalf("Convert() = nil error after write failure")
	}

	if err := s.Close(); err != nil || !port.closed {
		t.Fatalf("Close() = %v, closed=%v", err, port.closed)
	}
}

func TestOpenSensorStatic(t *testing.T) {
	src, err := openSensor(SensorConfig{Source: SensorSourceStatic, StaticValue: 9})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := src.Convert(); v != 9 {
		t.Fatalf("Convert() = %d, want 9", v)
	}
	if _, err := openSensor(SensorConfig{Source: "adc"}); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}
