package frame

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMailboxClosed is returned by Receive after Close
var ErrMailboxClosed = errors.New("frame mailbox closed")

// Mailbox is a single-slot, overwrite-on-full handoff between the frame
// source and the analyzer. It never holds more than one frame; a frame
// displaced by a newer one is closed immediately.
type Mailbox struct {
	mu     sync.Mutex
	slot   *Frame
	ready  chan struct{}
	closed bool

	offered   atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// MailboxStats contains mailbox counters
type MailboxStats struct {
	Offered   uint64 `json:"offered"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
}

// NewMailbox creates an empty mailbox
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Offer places f in the slot, replacing and closing any queued frame. It
// never blocks. Returns false (and closes f) if the mailbox is closed.
func (m *Mailbox) Offer(f *Frame) bool {
	m.offered.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.dropped.Add(1)
		f.Close()
		return false
	}
	if m.slot != nil {
		m.slot.Close()
		m.dropped.Add(1)
	}
	m.slot = f

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// Receive blocks until a frame is available, ctx is done, or the mailbox is
// closed. The caller owns the returned frame and must close it.
func (m *Mailbox) Receive(ctx context.Context) (*Frame, error) {
	for {
		m.mu.Lock()
		if f := m.slot; f != nil {
			m.slot = nil
			m.mu.Unlock()
			m.delivered.Add(1)
			return f, nil
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return nil, ErrMailboxClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ready:
		}
	}
}

// Drain closes the queued frame, if any, without delivering it
func (m *Mailbox) Drain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot != nil {
		m.slot.Close()
		m.slot = nil
		m.dropped.Add(1)
	}
}

// Len returns 0 or 1
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot != nil {
		return 1
	}
	return 0
}

// Close drains the mailbox and wakes any waiting receiver
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.slot != nil {
		m.slot.Close()
		m.slot = nil
		m.dropped.Add(1)
	}
	close(m.ready)
}

// Stats returns a snapshot of the mailbox counters
func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Offered:   m.offered.Load(),
		Dropped:   m.dropped.Load(),
		Delivered: m.delivered.Load(),
	}
}
