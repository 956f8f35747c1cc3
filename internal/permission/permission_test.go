package permission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/vzahanych/camsense/internal/logger"
)

// fakeAuthorizer grants according to a flag and answers requests with a
// configurable code.
type fakeAuthorizer struct {
	granted  atomic.Bool
	grantOn  bool // grant when a request arrives
	answer   func(code int) int
	requests atomic.Int32
}

func (f *fakeAuthorizer) Granted(p Permission) bool { return f.granted.Load() }

func (f *fakeAuthorizer) Request(ctx context.Context, perms []Permission, code int, done func(int)) {
	f.requests.Add(1)
	go func() {
		if f.grantOn {
			f.granted.Store(true)
		}
		if f.answer != nil {
			code = f.answer(code)
		}
		done(code)
	}()
}

// inlinePoster runs posted functions immediately
type inlinePoster struct{ mu sync.Mutex }

func (p *inlinePoster) Post(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
	return nil
}

type outcome struct {
	granted chan struct{}
	denied  chan error
}

func newOutcome() *outcome {
	return &outcome{granted: make(chan struct{}, 1), denied: make(chan error, 1)}
}

func (o *outcome) cfg() GateConfig {
	return GateConfig{
		OnGranted: func() { o.granted <- struct{}{} },
		OnDenied:  func(err error) { o.denied <- err },
	}
}

func TestGate_AlreadyGranted(t *testing.T) {
	auth := &fakeAuthorizer{}
	auth.granted.Store(true)
	o := newOutcome()
	g := NewGate(auth, &inlinePoster{}, o.cfg(), logger.NewNopLogger())

	assert.True(t, g.Check(context.Background()))
	assert.Equal(t, int32(0), auth.requests.Load())
}

func TestGate_RequestGranted(t *testing.T) {
	auth := &fakeAuthorizer{grantOn: true}
	o := newOutcome()
	g := NewGate(auth, &inlinePoster{}, o.cfg(), logger.NewNopLogger())

	assert.False(t, g.Check(context.Background()))
	select {
	case <-o.granted:
	case err := <-o.denied:
		t.Fatalf("unexpected denial: %v", err)
	case <-time.After(time.Second):
		t.Fatal("no result")
	}
	assert.False(t, g.Pending())
	assert.True(t, g.Check(context.Background()), "re-check on resume passes once granted")
}

func TestGate_RequestDenied(t *testing.T) {
	auth := &fakeAuthorizer{}
	o := newOutcome()
	g := NewGate(auth, &inlinePoster{}, o.cfg(), logger.NewNopLogger())

	g.Check(context.Background())
	select {
	case err := <-o.denied:
		assert.ErrorIs(t, err, ErrDenied)
	case <-time.After(time.Second):
		t.Fatal("no result")
	}
}

func TestGate_ForeignCodeIsDenied(t *testing.T) {
	auth := &fakeAuthorizer{grantOn: true, answer: func(code int) int { return code + 1 }}
	o := newOutcome()
	g := NewGate(auth, &inlinePoster{}, o.cfg(), logger.NewNopLogger())

	g.Check(context.Background())
	select {
	case err := <-o.denied:
		assert.ErrorIs(t, err, ErrDenied)
	case <-time.After(time.Second):
		t.Fatal("no result")
	}
}

func TestGate_SingleOutstandingRequest(t *testing.T) {
	block := make(chan struct{})
	auth := &fakeAuthorizer{answer: func(code int) int { <-block; return code }}
	g := NewGate(auth, nil, GateConfig{}, logger.NewNopLogger())

	g.Check(context.Background())
	g.Check(context.Background())
	assert.True(t, g.Pending())
	assert.Equal(t, int32(1), auth.requests.Load())
	close(block)
}

func TestGate_CodeRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := newRequestCode()
		assert.GreaterOrEqual(t, code, 0)
		assert.Less(t, code, 10000)
	}
}

func TestDeviceNode(t *testing.T) {
	assert.Equal(t, "/dev/video0", DeviceNode("0"))
	assert.Equal(t, "/dev/video2", DeviceNode("2"))
	assert.Equal(t, "/dev/video1", DeviceNode("/dev/video1"))
	assert.Equal(t, "", DeviceNode("rtsp://cam/stream"))
	assert.Equal(t, "", DeviceNode("synthetic"))
	assert.Equal(t, "", DeviceNode("clip.mp4"))
}

func TestDeviceAuthorizer_NonDeviceAlwaysGranted(t *testing.T) {
	a := NewDeviceAuthorizer("synthetic", time.Second, 0, logger.NewNopLogger())
	assert.True(t, a.Granted(PermissionCamera))
}

func TestDeviceAuthorizer_UsesAccess(t *testing.T) {
	a := NewDeviceAuthorizer("0", time.Second, 10*time.Millisecond, logger.NewNopLogger())

	var allowed atomic.Bool
	var gotMode atomic.Uint32
	a.access = func(path string, mode uint32) error {
		gotMode.Store(mode)
		if allowed.Load() {
			return nil
		}
		return unix.EACCES
	}
	assert.False(t, a.Granted(PermissionCamera))
	assert.Equal(t, uint32(unix.R_OK|unix.W_OK), gotMode.Load())

	done := make(chan int, 1)
	a.Request(context.Background(), []Permission{PermissionCamera}, 42, func(code int) { done <- code })
	time.Sleep(30 * time.Millisecond)
	allowed.Store(true)

	select {
	case code := <-done:
		assert.Equal(t, 42, code)
		assert.True(t, a.Granted(PermissionCamera))
	case <-time.After(time.Second):
		t.Fatal("request did not complete after access was granted")
	}
}

func TestDeviceAuthorizer_RequestTimesOut(t *testing.T) {
	a := NewDeviceAuthorizer("/dev/video9", 50*time.Millisecond, 10*time.Millisecond, logger.NewNopLogger())
	a.access = func(string, uint32) error { return errors.New("no access") }

	done := make(chan int, 1)
	start := time.Now()
	a.Request(context.Background(), []Permission{PermissionCamera}, 7, func(code int) { done <- code })

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		assert.False(t, a.Granted(PermissionCamera))
	case <-time.After(time.Second):
		t.Fatal("request should time out")
	}
	require.Equal(t, "/dev/video9", a.Node())
}
