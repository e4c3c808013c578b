package main

import "fmt"

// Ratio is an overlay tempo ratio: target = (actual / Divisor) * Multiplicator.
type Ratio struct {
	Multiplicator uint8 `yaml:"multiplicator" json:"multiplicator"`
	Divisor       uint8 `yaml:"divisor" json:"divisor"`
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d/%d", r.Multiplicator, r.Divisor)
}

// defaultRatioTable splits the sensor range into three segments, dark to bright.
var defaultRatioTable = []Ratio{
	{Multiplicator: 1, Divisor: 3},
	{Multiplicator: 2, Divisor: 3},
	{Multiplicator: 3, Divisor: 4},
}

// SensorCalibrator maps raw light sensor samples onto the ratio table.
//
// The observed range only ever widens, so the mapping adapts to the room the
// device sits in. Owned by the scheduler goroutine; not thread-safe.
type SensorCalibrator struct {
	table []Ratio

	min, max uint8
	sampled  bool
	last     uint8
	position int
}

// NewSensorCalibrator copies table; an empty table falls back to the default.
func NewSensorCalibrator(table []Ratio) *SensorCalibrator {
	if len(table) == 0 {
		table = defaultRatioTable
	}
	t := make([]Ratio, len(table))
	copy(t, table)
	return &SensorCalibrator{
		table: t,
		min:   255,
		max:   0,
	}
}

// Sample widens the extremes with raw and returns the ratio of the segment raw
// falls into.
//
// Until two distinct values have been seen the range is empty and the first
// table entry is returned.
func (c *SensorCalibrator) Sample(raw uint8) Ratio {
	if raw < c.min {
		c.min = raw
	}
	if raw > c.max {
		c.max = raw
	}
	c.sampled = true
	c.last = raw

	span := int(c.max) - int(c.min)
	if span == 0 {
		c.position = 0
		return c.table[0]
	}

	n := len(c.table)
	pos := int(raw-c.min) * n / span
	if pos > n-1 {
		pos = n - 1
	}
	c.position = pos
	return c.table[pos]
}

// Default returns the ratio used before any variation has been observed.
func (c *SensorCalibrator) Default() Ratio { return c.table[0] }

// Position returns the segment index chosen by the last Sample.
func (c *SensorCalibrator) Position() int { return c.position }

// Segments returns the number of table entries.
func (c *SensorCalibrator) Segments() int { return len(c.table) }

// Extremes returns the observed range. ok is false before the first sample.
func (c *SensorCalibrator) Extremes() (min, max uint8, ok bool) {
	return c.min, c.max, c.sampled
}

// Last returns the last raw sample.
func (c *SensorCalibrator) Last() uint8 { return c.last }
