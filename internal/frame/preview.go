package frame

import (
	"sync"
	"time"
)

// PreviewSink receives encoded preview images straight from the source,
// bypassing the analysis pipeline.
type PreviewSink interface {
	PublishPreview(jpeg []byte)
}

// PreviewHub keeps the latest preview JPEG and fans it out to subscribers.
// Slow subscribers miss images rather than blocking the source.
type PreviewHub struct {
	mu        sync.RWMutex
	latest    []byte
	updatedAt time.Time
	subs      map[chan []byte]struct{}
}

// NewPreviewHub creates an empty hub
func NewPreviewHub() *PreviewHub {
	return &PreviewHub{subs: make(map[chan []byte]struct{})}
}

// PublishPreview stores img as the latest preview and forwards it
func (h *PreviewHub) PublishPreview(img []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = img
	h.updatedAt = time.Now()
	for ch := range h.subs {
		select {
		case ch <- img:
		default:
		}
	}
}

// Latest returns the most recent preview and when it arrived
func (h *PreviewHub) Latest() ([]byte, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.updatedAt
}

// Subscribe returns a channel of preview images and a cancel function
func (h *PreviewHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers
func (h *PreviewHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
