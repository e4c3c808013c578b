package main

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// serialOutput switches a relay board that listens for '1' and '0'.
type serialOutput struct {
	port   io.WriteCloser
	device string
}

func openSerialOutput(device string, baud int) (*serialOutput, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open relay port %s: %w", device, err)
	}
	return &serialOutput{port: port, device: device}, nil
}

var (
	relayOn  = []byte{'1'}
	relayOff = []byte{'0'}
)

func (o *serialOutput) Set(on bool) error {
	b := relayOff
	if on {
		b = relayOn
	}
	if _, err := o.port.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", o.device, err)
	}
	return nil
}

func (o *serialOutput) Close() error {
	_, _ = o.port.Write(relayOff)
	return o.port.Close()
}

func (o *serialOutput) Name() string { return OutputKindSerial }
