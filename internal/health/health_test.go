package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/service"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) Check {
	return Check{Name: c.name, Status: c.status, Timestamp: time.Now()}
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestManager_CheckAggregatesStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(logger.NewNopLogger(), nil, "127.0.0.1:0")
			for i, s := range tt.statuses {
				m.RegisterChecker(staticChecker{name: string(rune('a' + i)), status: s})
			}
			report := m.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.statuses))
		})
	}
}

func TestManager_Endpoints(t *testing.T) {
	svcManager := service.NewManager(logger.NewNopLogger())
	m := NewManager(logger.NewNopLogger(), svcManager, "127.0.0.1:0")
	m.RegisterChecker(staticChecker{name: "db", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/services", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), nil, "127.0.0.1:0")
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestFreshnessChecker(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var last time.Time
	paused := false
	c := NewFreshnessChecker("frames", time.Second, func() time.Time { return last }, func() bool { return paused })
	c.now = func() time.Time { return now }

	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	last = now.Add(-500 * time.Millisecond)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	last = now.Add(-3 * time.Second)
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	paused = true
	check := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, true, check.Details["paused"])
}

type stubSession struct {
	stats frame.SessionStats
}

func (s stubSession) Stats() frame.SessionStats { return s.stats }

func TestCameraChecker(t *testing.T) {
	tests := []struct {
		name    string
		stats   frame.SessionStats
		started bool
		want    Status
	}{
		{"not started", frame.SessionStats{}, false, StatusHealthy},
		{"capturing", frame.SessionStats{Acquired: 10, Source: &frame.SourceStats{Connected: true, Captured: 10}}, true, StatusHealthy},
		{"source without counters", frame.SessionStats{Acquired: 3}, true, StatusHealthy},
		{"reconnecting", frame.SessionStats{Source: &frame.SourceStats{Reconnects: 2}}, true, StatusDegraded},
		{"source exited", frame.SessionStats{Error: "device vanished"}, true, StatusUnhealthy},
		{"exit reported even when stopped", frame.SessionStats{Error: "device vanished"}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := tt.started
			c := NewCameraChecker(stubSession{stats: tt.stats}, func() bool { return started })
			check := c.Check(context.Background())
			assert.Equal(t, "camera", check.Name)
			assert.Equal(t, tt.want, check.Status, check.Message)
			assert.Equal(t, tt.stats.Acquired, check.Details["acquired"])
		})
	}
}

func TestModelChecker(t *testing.T) {
	check := NewModelChecker("m.tflite", func() string { return "xnnpack" }).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "xnnpack", check.Details["delegate"])

	check = NewModelChecker("m.tflite", nil).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
}

func TestDatabaseChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewDatabaseChecker(pinger{}).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewDatabaseChecker(pinger{err: errors.New("closed")}).Check(context.Background()).Status)
}

func TestStorageChecker(t *testing.T) {
	check := NewStorageChecker(t.TempDir()).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
}

func TestSystemChecker(t *testing.T) {
	c := NewSystemChecker(t.TempDir())
	check := c.Check(context.Background())
	assert.NotEqual(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Details, "goroutines")

	c.statfs = func(path string, buf *unix.Statfs_t) error {
		buf.Bsize = 4096
		buf.Blocks = 1000
		buf.Bavail = 10
		return nil
	}
	check = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, uint64(40960), check.Details["disk_free_bytes"])

	c.statfs = func(string, *unix.Statfs_t) error { return unix.ENOENT }
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
}
