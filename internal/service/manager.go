package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/camsense/internal/logger"
)

// Manager manages the lifecycle of all services
type Manager struct {
	logger   *logger.Logger
	services []Service
	statuses map[string]*ServiceStatus
	eventBus *EventBus
	mu       sync.RWMutex
	started  []Service
	cancel   context.CancelFunc

	// StopTimeout bounds each service's Stop call during Shutdown
	StopTimeout time.Duration
}

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(100),
		StopTimeout: 10 * time.Second,
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts all registered services in registration order. The first
// failure stops the sequence; services already started stay running until
// Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))

	monitorCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.startEventMonitoring(monitorCtx)

	for _, svc := range m.services {
		status := m.statuses[svc.Name()]
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start",
				"service", svc.Name(),
				"error", err,
			)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data: map[string]interface{}{
					"error": err.Error(),
				},
			})
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}

		status.SetStatus(StatusRunning)
		m.started = append(m.started, svc)
		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data: map[string]interface{}{
				"service": svc.Name(),
			},
		})
	}

	return nil
}

// startEventMonitoring logs every event at debug level
func (m *Manager) startEventMonitoring(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				m.eventBus.UnsubscribeAll(ch)
				return
			}
		}
	}()
}

// Shutdown stops started services in reverse order of start
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := m.started
	m.started = nil
	m.logger.Info("Shutting down services", "count", len(started))

	defer func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.eventBus.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(started) - 1; i >= 0; i-- {
			m.stop(ctx, started[i])
		}
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) stop(ctx context.Context, svc Service) {
	status := m.statuses[svc.Name()]
	status.SetStatus(StatusStopping)
	m.logger.Info("Stopping service", "service", svc.Name())

	stopCtx, cancel := context.WithTimeout(ctx, m.StopTimeout)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		status.SetError(err)
		m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
	} else {
		status.SetStatus(StatusStopped)
		m.logger.Info("Service stopped", "service", svc.Name())
	}

	m.eventBus.Publish(Event{
		Type:   EventTypeServiceStopped,
		Source: "manager",
		Data:   map[string]interface{}{"service": svc.Name()},
	})
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
