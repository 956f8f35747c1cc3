// Package analyzer runs object detection on the newest camera frame in a
// single background worker and hands results to the UI loop.
package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/inference"
	"github.com/vzahanych/camsense/internal/preprocess"
	"github.com/vzahanych/camsense/internal/presenter"
	"github.com/vzahanych/camsense/internal/service"
)

// Poster schedules a function on the UI loop
type Poster interface {
	Post(fn func()) error
}

// Analyzer consumes frames from a mailbox. At most one frame is analyzed at
// a time; frames arriving meanwhile replace each other in the mailbox.
type Analyzer struct {
	*service.ServiceBase

	engine    inference.Engine
	mailbox   *frame.Mailbox
	poster    Poster
	presenter *presenter.Presenter

	pipeline *preprocess.Pipeline

	cancel context.CancelFunc
	done   chan struct{}

	analyzed   atomic.Uint64
	skipped    atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	latencyNs  atomic.Int64
	lastAt     atomic.Int64
	mu         sync.RWMutex
	lastResult inference.Prediction
	hasResult  bool
}

// New creates an analyzer
func New(engine inference.Engine, mailbox *frame.Mailbox, poster Poster, p *presenter.Presenter, base *service.ServiceBase) *Analyzer {
	return &Analyzer{
		ServiceBase: base,
		engine:      engine,
		mailbox:     mailbox,
		poster:      poster,
		presenter:   p,
	}
}

// Start launches the worker
func (a *Analyzer) Start(ctx context.Context) error {
	if a.cancel != nil {
		return errors.New("analyzer already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.run(runCtx)

	a.GetStatus().SetStatus(service.StatusRunning)
	a.LogInfo("Analyzer started")
	return nil
}

// Stop stops the worker and waits for the current analysis to finish
func (a *Analyzer) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.cancel = nil
	a.GetStatus().SetStatus(service.StatusStopped)
	a.LogInfo("Analyzer stopped", "analyzed", a.analyzed.Load())
	return nil
}

func (a *Analyzer) run(ctx context.Context) {
	defer close(a.done)
	for {
		f, err := a.mailbox.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, frame.ErrMailboxClosed) {
				a.LogError("Frame mailbox failed", err)
			}
			return
		}
		a.analyze(f)
	}
}

// analyze copies the pixels out so the source buffer can be reused right away
func (a *Analyzer) analyze(f *frame.Frame) {
	if f.Degenerate() {
		f.Close()
		a.skipped.Add(1)
		a.LogWarn("Skipping degenerate frame", "width", f.Width, "height", f.Height, "stride", f.Stride)
		return
	}
	img := f.Clone()
	f.Close()

	p, err := a.pipelineFor(img.RotationDegrees)
	if err != nil {
		a.failed.Add(1)
		a.LogError("Failed to build preprocessing pipeline", err, "rotation", img.RotationDegrees)
		return
	}

	start := time.Now()
	tensor, err := p.Process(img)
	if err != nil {
		a.skipped.Add(1)
		a.LogWarn("Skipping frame", "error", err, "sequence", img.Sequence)
		return
	}
	predictions, err := a.engine.Detect(tensor)
	latency := time.Since(start)
	if err != nil {
		a.failed.Add(1)
		a.LogError("Inference failed", err, "sequence", img.Sequence)
		return
	}
	a.analyzed.Add(1)
	a.latencyNs.Store(int64(latency))
	a.lastAt.Store(time.Now().UnixNano())

	if err := a.poster.Post(func() { a.presenter.Present(predictions) }); err != nil {
		a.dropped.Add(1)
		a.LogDebug("Dropping result", "error", err)
	}

	top, ok := presenter.Top(predictions)
	a.mu.Lock()
	a.lastResult, a.hasResult = top, ok
	a.mu.Unlock()
	if !ok {
		return
	}
	a.PublishEvent(service.EventTypeDetection, map[string]interface{}{
		"label":       top.Label,
		"score":       top.Score,
		"box":         top.Box,
		"sequence":    img.Sequence,
		"latency_ms":  float64(latency.Microseconds()) / 1000,
		"predictions": len(predictions),
	})
}

// pipelineFor builds the pipeline from the first frame's rotation. Sessions
// latch rotation, so later frames carry the same value.
func (a *Analyzer) pipelineFor(rotation int) (*preprocess.Pipeline, error) {
	if a.pipeline != nil {
		return a.pipeline, nil
	}
	p, err := preprocess.NewPipeline(a.engine.InputSpec(), rotation)
	if err != nil {
		return nil, err
	}
	a.pipeline = p
	a.LogInfo("Preprocessing pipeline ready", "rotation", rotation, "steps", strings.Join(p.Steps(), " -> "))
	return p, nil
}

// Stats contains analyzer counters
type Stats struct {
	Analyzed    uint64                `json:"analyzed"`
	Skipped     uint64                `json:"skipped"`
	Failed      uint64                `json:"failed"`
	Dropped     uint64                `json:"dropped"`
	LastLatency time.Duration         `json:"last_latency"`
	LastFrame   time.Time             `json:"last_frame"`
	Top         *inference.Prediction `json:"top,omitempty"`
}

// Stats returns a snapshot of the analyzer counters
func (a *Analyzer) Stats() Stats {
	st := Stats{
		Analyzed:    a.analyzed.Load(),
		Skipped:     a.skipped.Load(),
		Failed:      a.failed.Load(),
		Dropped:     a.dropped.Load(),
		LastLatency: time.Duration(a.latencyNs.Load()),
	}
	if ns := a.lastAt.Load(); ns > 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	a.mu.RLock()
	if a.hasResult {
		top := a.lastResult
		st.Top = &top
	}
	a.mu.RUnlock()
	return st
}
