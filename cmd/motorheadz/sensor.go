package main

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// SensorSource performs one light sensor conversion.
//
// Convert is called once per slow tick from the scheduler goroutine and must
// return within a bounded time; it is the only blocking call in a tick.
type SensorSource interface {
	Convert() (uint8, error)
}

// Sensor source kinds accepted in sensor.source.
const (
	SensorSourceStatic = "static"
	SensorSourceSerial = "serial"
)

var errSensorTimeout = errors.New("sensor: no sample before timeout")

// staticSensor returns a settable value. It stands in for the photoresistor
// when the daemon runs without hardware; IPC sensor_sample moves it.
type staticSensor struct {
	value atomic.Uint32
}

func newStaticSensor(initial uint8) *staticSensor {
	s := &staticSensor{}
	s.value.Store(uint32(initial))
	return s
}

func (s *staticSensor) Convert() (uint8, error) {
	return uint8(s.value.Load()), nil
}

// Set changes the value returned by subsequent conversions.
func (s *staticSensor) Set(v uint8) {
	s.value.Store(uint32(v))
}

// sampleSetter is implemented by sources that accept injected samples.
type sampleSetter interface {
	Set(v uint8)
}

// openSensor builds the source configured in cfg.
func openSensor(cfg SensorConfig) (SensorSource, error) {
	switch cfg.Source {
	case SensorSourceStatic:
		return newStaticSensor(cfg.StaticValue), nil
	case SensorSourceSerial:
		return openSerialSensor(cfg.SerialDevice, cfg.SerialBaud, cfg.SerialTimeoutMS)
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.Source)
	}
}
