package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/camsense/internal/logger"
)

// Source produces raw frames until ctx is cancelled. deliver takes ownership
// of each frame.
type Source interface {
	Name() string
	Run(ctx context.Context, deliver func(*Frame)) error
}

// SourceStats are the counters a capture source keeps
type SourceStats struct {
	Connected  bool      `json:"connected"`
	Captured   uint64    `json:"captured"`
	Reconnects uint64    `json:"reconnects"`
	LastFrame  time.Time `json:"last_frame"`
}

// StatsReporter is implemented by sources that keep capture counters
type StatsReporter interface {
	SourceStats() SourceStats
}

// Geometry is the frame shape latched from the first delivered frame
type Geometry struct {
	Width           int `json:"width"`
	Height          int `json:"height"`
	RotationDegrees int `json:"rotation_degrees"`
}

// SessionStats contains session counters
type SessionStats struct {
	Acquired   uint64       `json:"acquired"`
	Paused     uint64       `json:"paused"`
	Mismatched uint64       `json:"mismatched"`
	Degenerate uint64       `json:"degenerate"`
	Mailbox    MailboxStats `json:"mailbox"`
	Source     *SourceStats `json:"source,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Session runs a Source and feeds the analysis mailbox. The first usable frame
// latches rotation and dimensions for the rest of the session, paused or not.
// While paused, frames are acquired and closed immediately.
type Session struct {
	logger  *logger.Logger
	source  Source
	mailbox *Mailbox

	paused  atomic.Bool
	stopped atomic.Bool

	mu       sync.RWMutex
	geometry Geometry
	latched  bool
	latchCh  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	err      error

	acquired   atomic.Uint64
	pausedN    atomic.Uint64
	mismatched atomic.Uint64
	degenerate atomic.Uint64
}

// NewSession creates a session for source delivering into mailbox
func NewSession(source Source, mailbox *Mailbox, log *logger.Logger) *Session {
	return &Session{
		logger:  log,
		source:  source,
		mailbox: mailbox,
		latchCh: make(chan struct{}),
	}
}

// Start runs the source in the background
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("session for %s already started", s.source.Name())
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopped.Store(false)

	go func() {
		defer close(s.done)
		err := s.source.Run(runCtx, s.deliver)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Frame source stopped", "source", s.source.Name(), "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	s.logger.Info("Camera session started", "source", s.source.Name())
	return nil
}

// Stop stops delivery immediately and waits for the source to exit. A frame
// already taken by the analyzer is left to complete.
func (s *Session) Stop(ctx context.Context) error {
	s.stopped.Store(true)

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.mailbox.Drain()

	select {
	case <-done:
		s.logger.Info("Camera session stopped", "source", s.source.Name())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for frame source: %w", ctx.Err())
	}
}

// Done is closed when the source exits. Nil before Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Err returns the error the source exited with, if any
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Pause stops frames from entering the mailbox
func (s *Session) Pause() {
	if !s.paused.Swap(true) {
		s.mailbox.Drain()
		s.logger.Debug("Analysis paused")
	}
}

// Resume lets frames enter the mailbox again
func (s *Session) Resume() {
	if s.paused.Swap(false) {
		s.logger.Debug("Analysis resumed")
	}
}

// Paused reports the pause flag
func (s *Session) Paused() bool {
	return s.paused.Load()
}

// Geometry returns the latched geometry and whether it has been latched
func (s *Session) Geometry() (Geometry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geometry, s.latched
}

// Latched is closed once the geometry has been latched
func (s *Session) Latched() <-chan struct{} {
	return s.latchCh
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() SessionStats {
	st := SessionStats{
		Acquired:   s.acquired.Load(),
		Paused:     s.pausedN.Load(),
		Mismatched: s.mismatched.Load(),
		Degenerate: s.degenerate.Load(),
		Mailbox:    s.mailbox.Stats(),
	}
	if r, ok := s.source.(StatsReporter); ok {
		src := r.SourceStats()
		st.Source = &src
	}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (s *Session) deliver(f *Frame) {
	s.acquired.Add(1)

	if s.stopped.Load() {
		f.Close()
		return
	}
	// a degenerate frame must not become the latched geometry
	if f.Degenerate() {
		s.degenerate.Add(1)
		s.logger.Debug("Dropping degenerate frame", "width", f.Width, "height", f.Height)
		f.Close()
		return
	}

	g := s.latch(f)

	if s.paused.Load() {
		s.pausedN.Add(1)
		f.Close()
		return
	}

	if f.Width != g.Width || f.Height != g.Height {
		s.mismatched.Add(1)
		s.logger.Debug("Dropping frame with unexpected size",
			"width", f.Width,
			"height", f.Height,
		)
		f.Close()
		return
	}
	f.RotationDegrees = g.RotationDegrees

	s.mailbox.Offer(f)
}

// latch records the geometry of the first frame and returns the latched value
func (s *Session) latch(f *Frame) Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.latched {
		s.geometry = Geometry{Width: f.Width, Height: f.Height, RotationDegrees: f.RotationDegrees}
		s.latched = true
		close(s.latchCh)
		s.logger.Info("Frame geometry latched",
			"width", f.Width,
			"height", f.Height,
			"rotation", f.RotationDegrees,
		)
	}
	return s.geometry
}
