package main

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// midiOutput plays the bang as a note: note on at assertion, note off at
// release. Drum machines and samplers make a good stand-in for the motor.
type midiOutput struct {
	port     drivers.Out
	send     func(midi.Message) error
	channel  uint8
	note     uint8
	velocity uint8
	on       bool
}

// openMIDIOutput opens the first out port whose name contains portName
// (case-insensitive). An empty portName picks the first port.
func openMIDIOutput(portName string, channel, note, velocity uint8) (*midiOutput, error) {
	port, err := findOutPort(portName)
	if err != nil {
		return nil, err
	}
	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("open midi port %q: %w", port.String(), err)
	}
	return newMIDIOutput(port, send, channel, note, velocity), nil
}

func newMIDIOutput(port drivers.Out, send func(midi.Message) error, channel, note, velocity uint8) *midiOutput {
	return &midiOutput{
		port:     port,
		send:     send,
		channel:  channel,
		note:     note,
		velocity: velocity,
	}
}

func findOutPort(name string) (drivers.Out, error) {
	outs := midi.GetOutPorts()
	if len(outs) == 0 {
		return nil, fmt.Errorf("no midi out ports available")
	}
	if name == "" {
		return outs[0], nil
	}
	want := strings.ToLower(name)
	for _, p := range outs {
		if strings.Contains(strings.ToLower(p.String()), want) {
			return p, nil
		}
	}
	names := make([]string, 0, len(outs))
	for _, p := range outs {
		names = append(names, p.String())
	}
	return nil, fmt.Errorf("midi out port %q not found (available: %s)", name, strings.Join(names, ", "))
}

func (o *midiOutput) Set(on bool) error {
	if on == o.on {
		return nil
	}
	var msg midi.Message
	if on {
		msg = midi.NoteOn(o.channel, o.note, o.velocity)
	} else {
		msg = midi.NoteOff(o.channel, o.note)
	}
	if err := o.send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.String(), err)
	}
	o.on = on
	return nil
}

func (o *midiOutput) Close() error {
	if o.on {
		_ = o.send(midi.NoteOff(o.channel, o.note))
		o.on = false
	}
	if o.port == nil {
		return nil
	}
	return o.port.Close()
}

func (o *midiOutput) Name() string { return OutputKindMIDI }
