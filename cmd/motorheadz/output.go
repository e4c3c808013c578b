package main

import (
	"errors"
	"fmt"
	"log/slog"
)

// Output is one physical actuator channel.
type Output interface {
	Set(on bool) error
	Close() error
	Name() string
}

// Output kinds accepted in actuator.outputs.
const (
	OutputKindLog    = "log"
	OutputKindMIDI   = "midi"
	OutputKindSerial = "serial"
)

var errNoOutputs = errors.New("actuator.outputs must name at least one output")

// OutputBank drives every configured output together. It is the OutputLine
// handed to the tempo controller.
//
// Failures are logged once per output until that output succeeds again, so a
// dead device does not flood the log at the fast tick rate.
type OutputBank struct {
	outputs []Output
	failing []bool
	logger  *slog.Logger
}

// NewOutputBank returns a bank over outputs.
func NewOutputBank(logger *slog.Logger, outputs ...Output) *OutputBank {
	return &OutputBank{
		outputs: outputs,
		failing: make([]bool, len(outputs)),
		logger:  logger,
	}
}

// Set asserts or deasserts all outputs.
func (b *OutputBank) Set(on bool) {
	for i, o := range b.outputs {
		err := o.Set(on)
		switch {
		case err != nil && !b.failing[i]:
			b.failing[i] = true
			b.logger.Warn("actuator output failed", "output", o.Name(), "error", err)
		case err == nil && b.failing[i]:
			b.failing[i] = false
			b.logger.Info("actuator output recovered", "output", o.Name())
		}
	}
}

// Close closes every output and returns the joined errors.
func (b *OutputBank) Close() error {
	var errs []error
	for _, o := range b.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", o.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the output names in order.
func (b *OutputBank) Names() []string {
	names := make([]string, 0, len(b.outputs))
	for _, o := range b.outputs {
		names = append(names, o.Name())
	}
	return names
}

// logOutput writes actuator transitions to the log.
type logOutput struct {
	logger *slog.Logger
}

func (o *logOutput) Set(on bool) error {
	o.logger.Debug("actuator", "on", on)
	return nil
}

func (o *logOutput) Close() error { return nil }
func (o *logOutput) Name() string { return OutputKindLog }

// openOutputs builds the outputs listed in cfg. Already opened outputs are
// closed again if a later one fails.
func openOutputs(cfg ActuatorConfig, logger *slog.Logger) (*OutputBank, error) {
	if len(cfg.Outputs) == 0 {
		return nil, errNoOutputs
	}

	var opened []Output
	fail := func(err error) (*OutputBank, error) {
		for _, o := range opened {
			_ = o.Close()
		}
		return nil, err
	}

	for _, kind := range cfg.Outputs {
		switch kind {
		case OutputKindLog:
			opened = append(opened, &logOutput{logger: logger})
		case OutputKindMIDI:
			o, err := openMIDIOutput(cfg.MIDIPort, cfg.MIDIChannel, cfg.MIDINote, cfg.MIDIVelocity)
			if err != nil {
				return fail(err)
			}
			opened = append(opened, o)
		case OutputKindSerial:
			o, err := openSerialOutput(cfg.SerialDevice, cfg.SerialBaud)
			if err != nil {
				return fail(err)
			}
			opened = append(opened, o)
		default:
			return fail(fmt.Errorf("unknown actuator output %q", kind))
		}
	}

	return NewOutputBank(logger, opened...), nil
}
