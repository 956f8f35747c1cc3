package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceStatus_Initial(t *testing.T) {
	s := NewServiceStatus("analyzer")
	require.NotNil(t, s)
	assert.Equal(t, "analyzer", s.Name)
	assert.Equal(t, StatusStopped, s.GetStatus())
	assert.NoError(t, s.GetError())
	assert.False(t, s.IsRunning())
	assert.Zero(t, s.GetUptime())
}

func TestServiceStatus_Transitions(t *testing.T) {
	boom := errors.New("camera unplugged")

	tests := []struct {
		name        string
		apply       func(s *ServiceStatus)
		wantStatus  Status
		wantErr     error
		wantRunning bool
		wantStarted bool
	}{
		{
			name:       "starting",
			apply:      func(s *ServiceStatus) { s.SetStatus(StatusStarting) },
			wantStatus: StatusStarting,
		},
		{
			name:        "running stamps start time",
			apply:       func(s *ServiceStatus) { s.SetStatus(StatusRunning) },
			wantStatus:  StatusRunning,
			wantRunning: true,
			wantStarted: true,
		},
		{
			name:       "error moves to error state",
			apply:      func(s *ServiceStatus) { s.SetError(boom) },
			wantStatus: StatusError,
			wantErr:    boom,
		},
		{
			name: "running clears a previous error",
			apply: func(s *ServiceStatus) {
				s.SetError(boom)
				s.SetStatus(StatusRunning)
			},
			wantStatus:  StatusRunning,
			wantRunning: true,
			wantStarted: true,
		},
		{
			name: "stopping keeps the error",
			apply: func(s *ServiceStatus) {
				s.SetError(boom)
				s.SetStatus(StatusStopping)
			},
			wantStatus: StatusStopping,
			wantErr:    boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServiceStatus("svc")
			tt.apply(s)

			assert.Equal(t, tt.wantStatus, s.GetStatus())
			assert.Equal(t, tt.wantErr, s.GetError())
			assert.Equal(t, tt.wantRunning, s.IsRunning())
			assert.Equal(t, tt.wantStarted, !s.StartedAt.IsZero())
		})
	}
}

func TestServiceStatus_RunningTwiceKeepsStartTime(t *testing.T) {
	s := NewServiceStatus("svc")
	s.SetStatus(StatusRunning)
	first := s.StartedAt

	time.Sleep(5 * time.Millisecond)
	s.SetStatus(StatusRunning)
	assert.Equal(t, first, s.StartedAt)
}

func TestServiceStatus_Uptime(t *testing.T) {
	s := NewServiceStatus("svc")
	assert.Zero(t, s.GetUptime(), "not running")

	s.SetStatus(StatusRunning)
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, s.GetUptime(), 10*time.Millisecond)

	s.SetStatus(StatusStopped)
	assert.Zero(t, s.GetUptime(), "stopped")

	s.SetStatus(StatusRunning)
	s.SetError(errors.New("failed"))
	assert.Zero(t, s.GetUptime(), "errored")
}

func TestServiceStatus_ConcurrentAccess(t *testing.T) {
	s := NewServiceStatus("svc")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetStatus(StatusRunning)
				s.SetError(errors.New("x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.GetStatus()
				_ = s.GetError()
				_ = s.GetUptime()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StatusError, s.GetStatus())
}
