package main

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// serialSensor reads the photoresistor through a microcontroller ADC bridge.
//
// Protocol: the host writes sensorRequestByte, the bridge answers with one
// byte holding the 8-bit left-adjusted conversion result.
type serialSensor struct {
	port    serial.Port
	device  string
	request []byte
	buf     []byte
}

func openSerialSensor(device string, baud, timeoutMS int) (*serialSensor, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open sensor port %s: %w", device, err)
	}
	if err := port.SetReadTimeout(time.Duration(timeoutMS) * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set sensor read timeout: %w", err)
	}
	return newSerialSensor(port, device), nil
}

func newSerialSensor(port serial.Port, device string) *serialSensor {
	return &serialSensor{
		port:    port,
		device:  device,
		request: []byte{sensorRequestByte},
		buf:     make([]byte, 1),
	}
}

// Convert requests and reads one sample. A late answer from a previous
// request is discarded first so samples never lag by a tick.
func (s *serialSensor) Convert() (uint8, error) {
	if err := s.port.ResetInputBuffer(); err != nil {
		return 0, fmt.Errorf("reset %s input: %w", s.device, err)
	}
	if _, err := s.port.Write(s.request); err != nil {
		return 0, fmt.Errorf("write %s: %w", s.device, err)
	}
	n, err := s.port.Read(s.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("read %s: %w", s.device, err)
	}
	if n == 0 {
		return 0, errSensorTimeout
	}
	return s.buf[0], nil
}

func (s *serialSensor) Close() error {
	return s.port.Close()
}
