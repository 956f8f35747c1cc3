// Package motion classifies the device as moving or stationary from linear
// acceleration samples.
package motion

import (
	"math"
	"sync"
	"time"
)

// State is the motion classification
type State int

const (
	Stationary State = iota
	Moving
)

func (s State) String() string {
	if s == Moving {
		return "moving"
	}
	return "stationary"
}

// Config contains the hysteresis settings
type Config struct {
	// Threshold is the per-axis magnitude, in m/s^2, that counts as motion
	Threshold float64
	// Sustain is how long motion must persist before the state flips to Moving
	Sustain      time.Duration
	MovingLabel  string
	StoppedLabel string
}

// DefaultConfig returns a threshold of 1 and a sustain of one second
func DefaultConfig() Config {
	return Config{
		Threshold:    1,
		Sustain:      time.Second,
		MovingLabel:  "moving",
		StoppedLabel: "stopped",
	}
}

// Sample is one linear acceleration reading. Timestamp is in nanoseconds on
// the sensor clock.
type Sample struct {
	X, Y, Z   float32
	Timestamp int64
}

// Transition describes a state change
type Transition struct {
	From      State
	To        State
	Timestamp int64
}

// Monitor is the motion state machine. Feed samples with Update from a single
// goroutine; State and Label may be read from anywhere.
type Monitor struct {
	cfg Config

	mu      sync.RWMutex
	state   State
	latched int64 // first above-threshold timestamp, valid when latchOK
	latchOK bool
	samples uint64
	lastTS  int64
}

// NewMonitor creates a monitor in the Stationary state
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MovingLabel == "" {
		cfg.MovingLabel = def.MovingLabel
	}
	if cfg.StoppedLabel == "" {
		cfg.StoppedLabel = def.StoppedLabel
	}
	return &Monitor{cfg: cfg, state: Stationary}
}

// Update applies one sample and returns the label to display. changed is
// true only when the state flipped.
func (m *Monitor) Update(s Sample) (label string, tr Transition, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples++
	m.lastTS = s.Timestamp
	prev := m.state

	if m.above(s) {
		if !m.latchOK {
			m.latched = s.Timestamp
			m.latchOK = true
		} else if time.Duration(s.Timestamp-m.latched) > m.cfg.Sustain {
			m.state = Moving
		}
	} else {
		m.latchOK = false
		m.latched = 0
		m.state = Stationary
	}

	tr = Transition{From: prev, To: m.state, Timestamp: s.Timestamp}
	return m.labelLocked(), tr, prev != m.state
}

func (m *Monitor) above(s Sample) bool {
	t := m.cfg.Threshold
	return math.Abs(float64(s.X)) >= t ||
		math.Abs(float64(s.Y)) >= t ||
		math.Abs(float64(s.Z)) >= t
}

// State returns the current state
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Label returns the display text for the current state
func (m *Monitor) Label() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.labelLocked()
}

func (m *Monitor) labelLocked() string {
	if m.state == Moving {
		return m.cfg.MovingLabel
	}
	return m.cfg.StoppedLabel
}

// LabelFor returns the display text for s
func (m *Monitor) LabelFor(s State) string {
	if s == Moving {
		return m.cfg.MovingLabel
	}
	return m.cfg.StoppedLabel
}

// Stats contains monitor counters
type Stats struct {
	State         string `json:"state"`
	Samples       uint64 `json:"samples"`
	LastTimestamp int64  `json:"last_timestamp"`
}

// Stats returns a snapshot of the monitor
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{State: m.state.String(), Samples: m.samples, LastTimestamp: m.lastTS}
}
