package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/camsense/internal/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text"})
	require.NoError(t, err)
	return NewManager(log)
}

func TestNewManager(t *testing.T) {
	mgr := newTestManager(t)
	assert.Equal(t, 0, mgr.GetServiceCount())
	assert.NotNil(t, mgr.GetEventBus())
}

func TestManager_Register(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Register(&mockService{name: "test-service"})

	assert.Equal(t, 1, mgr.GetServiceCount())
	status := mgr.GetServiceStatus("test-service")
	require.NotNil(t, status)
	assert.Equal(t, StatusStopped, status.GetStatus())
}

func TestManager_Register_WithEvents(t *testing.T) {
	mgr := newTestManager(t)
	svc := &mockServiceWithEvents{name: "event-service"}
	mgr.Register(svc)
	assert.Same(t, mgr.GetEventBus(), svc.eventBus)
}

func TestManager_Start(t *testing.T) {
	mgr := newTestManager(t)
	svc := &mockService{name: "test-service"}
	mgr.Register(svc)

	require.NoError(t, mgr.Start(context.Background()))

	status := mgr.GetServiceStatus("test-service")
	assert.Equal(t, StatusRunning, status.GetStatus())
	assert.True(t, status.IsRunning())
	assert.True(t, svc.isStarted())
}

func TestManager_Start_InRegistrationOrder(t *testing.T) {
	mgr := newTestManager(t)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		mgr.Register(&mockService{name: name, onStart: func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}})
	}

	require.NoError(t, mgr.Start(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManager_Start_ServiceError(t *testing.T) {
	mgr := newTestManager(t)
	failing := &mockService{name: "failing-service", startError: errors.New("start failed")}
	after := &mockService{name: "after"}
	mgr.Register(failing)
	mgr.Register(after)

	err := mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing-service")

	status := mgr.GetServiceStatus("failing-service")
	assert.Equal(t, StatusError, status.GetStatus())
	assert.Error(t, status.GetError())
	assert.False(t, after.isStarted(), "services after a failure are not started")
}

func TestManager_Start_PublishesEvents(t *testing.T) {
	mgr := newTestManager(t)
	ch := mgr.GetEventBus().Subscribe(EventTypeServiceStarted)
	mgr.Register(&mockService{name: "svc"})

	require.NoError(t, mgr.Start(context.Background()))

	select {
	case ev := <-ch:
		assert.Equal(t, "svc", ev.Data["service"])
	case <-time.After(time.Second):
		t.Fatal("expected service started event")
	}
}

func TestManager_Shutdown(t *testing.T) {
	mgr := newTestManager(t)
	svc1 := &mockService{name: "service-1"}
	svc2 := &mockService{name: "service-2"}
	mgr.Register(svc1)
	mgr.Register(svc2)

	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("service-1").GetStatus())
	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("service-2").GetStatus())
	assert.True(t, svc1.isStopped())
	assert.True(t, svc2.isStopped())
}

func TestManager_Shutdown_ReverseOrder(t *testing.T) {
	mgr := newTestManager(t)

	var stopOrder []string
	for _, name := range []string{"service-1", "service-2", "service-3"} {
		name := name
		mgr.Register(&mockService{name: name, onStop: func() {
			stopOrder = append(stopOrder, name)
		}})
	}

	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	assert.Equal(t, []string{"service-3", "service-2", "service-1"}, stopOrder)
}

func TestManager_Shutdown_SkipsUnstarted(t *testing.T) {
	mgr := newTestManager(t)
	ok := &mockService{name: "ok"}
	failing := &mockService{name: "failing", startError: errors.New("boom")}
	mgr.Register(ok)
	mgr.Register(failing)

	require.Error(t, mgr.Start(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))

	assert.True(t, ok.isStopped())
	assert.False(t, failing.isStopped())
}

func TestManager_Shutdown_Timeout(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Register(&mockService{name: "slow-service", stopDelay: 2 * time.Second})

	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, mgr.Shutdown(ctx))
}

func TestManager_GetAllStatuses(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Register(&mockService{name: "service-1"})
	mgr.Register(&mockService{name: "service-2"})

	statuses := mgr.GetAllStatuses()
	assert.Len(t, statuses, 2)
	assert.NotNil(t, statuses["service-1"])
	assert.NotNil(t, statuses["service-2"])
}

type mockService struct {
	name       string
	startError error
	stopError  error
	stopDelay  time.Duration
	onStart    func()
	onStop     func()

	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *mockService) Name() string {
	return m.name
}

func (m *mockService) Start(ctx context.Context) error {
	if m.startError != nil {
		return m.startError
	}
	if m.onStart != nil {
		m.onStart()
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *mockService) Stop(ctx context.Context) error {
	if m.stopDelay > 0 {
		time.Sleep(m.stopDelay)
	}
	if m.onStop != nil {
		m.onStop()
	}
	if m.stopError != nil {
		return m.stopError
	}
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *mockService) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *mockService) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type mockServiceWithEvents struct {
	name     string
	eventBus *EventBus
}

func (m *mockServiceWithEvents) Name() string                    { return m.name }
func (m *mockServiceWithEvents) Start(ctx context.Context) error { return nil }
func (m *mockServiceWithEvents) Stop(ctx context.Context) error  { return nil }
func (m *mockServiceWithEvents) SetEventBus(bus *EventBus)       { m.eventBus = bus }
