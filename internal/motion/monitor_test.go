package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const ms = int64(time.Millisecond)

func TestMonitor_BelowThresholdStaysStationary(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	for i := int64(0); i < 500; i++ {
		label, _, changed := m.Update(Sample{X: 0.99, Y: -0.99, Z: 0.5, Timestamp: i * 10 * ms})
		assert.Equal(t, "stopped", label)
		assert.False(t, changed)
	}
	assert.Equal(t, Stationary, m.State())
}

func TestMonitor_SustainedMotionTransitionsOnce(t *testing.T) {
	m := NewMonitor(DefaultConfig())

	transitions := 0
	var labels []string
	for i := int64(0); i <= 300; i++ {
		label, tr, changed := m.Update(Sample{X: 1.5, Timestamp: i * 10 * ms})
		labels = append(labels, label)
		if changed {
			transitions++
			assert.Equal(t, Stationary, tr.From)
			assert.Equal(t, Moving, tr.To)
			assert.Greater(t, tr.Timestamp, int64(time.Second))
		}
	}
	assert.Equal(t, 1, transitions)
	assert.Equal(t, Moving, m.State())
	assert.Equal(t, "stopped", labels[0])
	assert.Equal(t, "stopped", labels[100], "exactly one second is not enough")
	assert.Equal(t, "moving", labels[101])
}

func TestMonitor_LatchesFirstSample(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	base := int64(5 * time.Second)

	m.Update(Sample{Z: -2, Timestamp: base})
	_, _, changed := m.Update(Sample{Z: -2, Timestamp: base + 900*ms})
	assert.False(t, changed)
	_, _, changed = m.Update(Sample{Z: -2, Timestamp: base + 1001*ms})
	assert.True(t, changed)
}

func TestMonitor_ThresholdIsInclusive(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	m.Update(Sample{Y: 1.0, Timestamp: 0})
	_, _, changed := m.Update(Sample{Y: -1.0, Timestamp: 2 * int64(time.Second)})
	assert.True(t, changed)
}

func TestMonitor_QuietSampleResets(t *testing.T) {
	m := NewMonitor(DefaultConfig())

	m.Update(Sample{X: 3, Timestamp: 0})
	m.Update(Sample{X: 3, Timestamp: 1500 * ms})
	assert.Equal(t, Moving, m.State())

	label, tr, changed := m.Update(Sample{X: 0.1, Timestamp: 1510 * ms})
	assert.True(t, changed)
	assert.Equal(t, Transition{From: Moving, To: Stationary, Timestamp: 1510 * ms}, tr)
	assert.Equal(t, "stopped", label)

	// the latch was reset, so the sustain window starts again
	m.Update(Sample{X: 3, Timestamp: 1600 * ms})
	_, _, changed = m.Update(Sample{X: 3, Timestamp: 2500 * ms})
	assert.False(t, changed)
	assert.Equal(t, Stationary, m.State())
}

func TestMonitor_InterruptedMotionNeverMoves(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	for i := int64(0); i < 100; i++ {
		x := float32(2)
		if i%5 == 4 {
			x = 0
		}
		m.Update(Sample{X: x, Timestamp: i * 200 * ms})
		assert.Equal(t, Stationary, m.State())
	}
}

func TestMonitor_CustomConfig(t *testing.T) {
	m := NewMonitor(Config{Threshold: 0.5, Sustain: 100 * time.Millisecond, MovingLabel: "움직임", StoppedLabel: "멈춤"})
	assert.Equal(t, "멈춤", m.Label())

	m.Update(Sample{X: 0.6, Timestamp: 0})
	label, _, changed := m.Update(Sample{X: 0.6, Timestamp: 101 * ms})
	assert.True(t, changed)
	assert.Equal(t, "움직임", label)
	assert.Equal(t, "움직임", m.LabelFor(Moving))

	stats := m.Stats()
	assert.Equal(t, "moving", stats.State)
	assert.Equal(t, uint64(2), stats.Samples)
	assert.Equal(t, 101*ms, stats.LastTimestamp)
}

func TestNewMonitor_FillsDefaults(t *testing.T) {
	m := NewMonitor(Config{})
	assert.Equal(t, "stopped", m.Label())
	assert.Equal(t, "moving", m.LabelFor(Moving))
	assert.Equal(t, "stationary", Stationary.String())
}
