package display

import (
	"sync"
	"time"
)

// Region identifies one text region on the display
type Region string

const (
	RegionLabel  Region = "label"
	RegionScore  Region = "score"
	RegionMotion Region = "motion"
)

// Snapshot is the current content of every region
type Snapshot struct {
	Label     string    `json:"label"`
	Score     string    `json:"score"`
	Motion    string    `json:"motion"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// Display holds the text regions. Writes are expected on the UI loop;
// readers on any goroutine get consistent snapshots.
type Display struct {
	mu   sync.RWMutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// New creates an empty display
func New() *Display {
	return &Display{subs: make(map[chan Snapshot]struct{})}
}

// SetText writes text to a region and notifies subscribers when the content
// changed.
func (d *Display) SetText(region Region, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var cur *string
	switch region {
	case RegionLabel:
		cur = &d.snap.Label
	case RegionScore:
		cur = &d.snap.Score
	case RegionMotion:
		cur = &d.snap.Motion
	default:
		return
	}
	if *cur == text {
		return
	}
	*cur = text
	d.snap.UpdatedAt = time.Now()
	d.snap.Version++

	snap := d.snap
	for ch := range d.subs {
		select {
		case ch <- snap:
		default:
			// replace the stale snapshot so the subscriber sees the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Text returns the content of a region
func (d *Display) Text(region Region) string {
	snap := d.Snapshot()
	switch region {
	case RegionLabel:
		return snap.Label
	case RegionScore:
		return snap.Score
	case RegionMotion:
		return snap.Motion
	default:
		return ""
	}
}

// Snapshot returns the current content of all regions
func (d *Display) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Subscribe returns a channel receiving snapshots on change, and a cancel func
func (d *Display) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, ch)
			d.mu.Unlock()
			close(ch)
		})
	}
}
