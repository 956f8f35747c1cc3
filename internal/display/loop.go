// Package display owns the UI loop and the text regions the results are
// written to. All region writes happen on the loop goroutine.
package display

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vzahanych/camsense/internal/logger"
)

// ErrLoopFull is returned by Post when the queue is full
var ErrLoopFull = errors.New("ui loop queue full")

// Loop runs posted functions one at a time, in order, on a single goroutine
type Loop struct {
	logger  *logger.Logger
	queue   chan func()
	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stop      chan struct{}
}

// NewLoop creates a loop with a bounded queue
func NewLoop(queueSize int, log *logger.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Loop{
		logger: log,
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Name returns the service name
func (l *Loop) Name() string {
	return "ui-loop"
}

// Start launches the loop goroutine
func (l *Loop) Start(ctx context.Context) error {
	l.startOnce.Do(func() {
		go l.run()
	})
	return nil
}

// Stop stops the loop after the function currently running returns.
// Queued functions that have not started are discarded.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	l.startOnce.Do(func() { close(l.done) })
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("UI callback panicked", "panic", r)
		}
	}()
	fn()
}

// Post schedules fn without waiting for it to run
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.stop:
		return errors.New("ui loop stopped")
	default:
	}
	select {
	case l.queue <- fn:
		return nil
	default:
		l.dropped.Add(1)
		return ErrLoopFull
	}
}

// Sync posts fn and waits for it to run. Used by tests and shutdown paths.
func (l *Loop) Sync(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := l.Post(func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many posts were rejected because the queue was full
func (l *Loop) Dropped() uint64 {
	return l.dropped.Load()
}
