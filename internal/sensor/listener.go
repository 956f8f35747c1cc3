package sensor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/camsense/internal/motion"
	"github.com/vzahanych/camsense/internal/service"
)

// Poster schedules a function on the UI loop
type Poster interface {
	Post(fn func()) error
}

// Listener runs a Source for the lifetime of the service and dispatches
// samples to the registered handler on the UI loop. Samples arriving while no
// handler is registered are discarded.
type Listener struct {
	*service.ServiceBase

	source Source
	poster Poster

	mu      sync.RWMutex
	handler func(motion.Sample)

	cancel context.CancelFunc
	done   chan struct{}

	received   atomic.Uint64
	dispatched atomic.Uint64
	lastAt     atomic.Int64
}

// NewListener creates a listener service for source
func NewListener(source Source, poster Poster, base *service.ServiceBase) *Listener {
	return &Listener{
		ServiceBase: base,
		source:      source,
		poster:      poster,
	}
}

// Register sets the handler that receives samples
func (l *Listener) Register(handler func(motion.Sample)) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	l.LogDebug("Sensor listener registered")
}

// Unregister removes the handler
func (l *Listener) Unregister() {
	l.mu.Lock()
	l.handler = nil
	l.mu.Unlock()
	l.LogDebug("Sensor listener unregistered")
}

// Registered reports whether a handler is set
func (l *Listener) Registered() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handler != nil
}

// Start runs the source in the background
func (l *Listener) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		err := l.source.Run(runCtx, l.dispatch)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.LogError("Sensor source stopped", err, "source", l.source.Name())
			l.GetStatus().SetError(err)
			return
		}
		l.LogInfo("Sensor source finished", "source", l.source.Name())
	}()

	l.GetStatus().SetStatus(service.StatusRunning)
	l.LogInfo("Sensor listener started", "source", l.source.Name())
	return nil
}

// Stop cancels the source and waits for it to exit
func (l *Listener) Stop(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (l *Listener) dispatch(s motion.Sample) {
	l.received.Add(1)
	l.lastAt.Store(time.Now().UnixNano())

	l.mu.RLock()
	handler := l.handler
	l.mu.RUnlock()
	if handler == nil {
		return
	}

	if err := l.poster.Post(func() {
		// re-check on the loop: Unregister may have run in between
		l.mu.RLock()
		registered := l.handler != nil
		l.mu.RUnlock()
		if registered {
			handler(s)
		}
	}); err != nil {
		l.LogDebug("Dropping sensor sample", "error", err)
		return
	}
	l.dispatched.Add(1)
}

// Stats contains listener counters
type Stats struct {
	Received   uint64    `json:"received"`
	Dispatched uint64    `json:"dispatched"`
	LastSample time.Time `json:"last_sample"`
	Registered bool      `json:"registered"`
}

// Stats returns a snapshot of the listener counters
func (l *Listener) Stats() Stats {
	st := Stats{
		Received:   l.received.Load(),
		Dispatched: l.dispatched.Load(),
		Registered: l.Registered(),
	}
	if ns := l.lastAt.Load(); ns > 0 {
		st.LastSample = time.Unix(0, ns)
	}
	return st
}
