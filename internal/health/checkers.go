package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vzahanych/camsense/internal/frame"
)

// SystemChecker reports process memory and free space on the data volume
type SystemChecker struct {
	dataDir string
	// minFree is the free-space fraction below which the check degrades
	minFree float64
	statfs  func(path string, buf *unix.Statfs_t) error
}

func NewSystemChecker(dataDir string) *SystemChecker {
	return &SystemChecker{dataDir: dataDir, minFree: 0.05, statfs: unix.Statfs}
}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	check.Details["heap_alloc_bytes"] = m.HeapAlloc
	check.Details["sys_bytes"] = m.Sys
	check.Details["goroutines"] = runtime.NumGoroutine()

	var fs unix.Statfs_t
	if err := c.statfs(c.dataDir, &fs); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}
	total := fs.Blocks * uint64(fs.Bsize)
	free := fs.Bavail * uint64(fs.Bsize)
	check.Details["disk_total_bytes"] = total
	check.Details["disk_free_bytes"] = free

	if total > 0 && float64(free)/float64(total) < c.minFree {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Low disk space: %d of %d bytes free", free, total)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "System resources OK"
	return check
}

// ModelChecker reports the loaded model and the delegate in use
type ModelChecker struct {
	path     string
	delegate func() string
}

func NewModelChecker(path string, delegate func() string) *ModelChecker {
	return &ModelChecker{path: path, delegate: delegate}
}

func (c *ModelChecker) Name() string {
	return "model"
}

func (c *ModelChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": c.path},
	}
	if c.delegate == nil {
		check.Status = StatusUnhealthy
		check.Message = "Model not loaded"
		return check
	}
	d := c.delegate()
	check.Details["delegate"] = d
	check.Status = StatusHealthy
	check.Message = "Model loaded"
	if d == "none" || d == "" {
		check.Message = "Model loaded on CPU"
	}
	return check
}

// FreshnessChecker degrades when a stream has not produced anything within
// maxAge. Used for camera frames and sensor samples.
type FreshnessChecker struct {
	name   string
	maxAge time.Duration
	last   func() time.Time
	// idle reports whether the stream is expected to be quiet (paused)
	idle func() bool
	now  func() time.Time
}

func NewFreshnessChecker(name string, maxAge time.Duration, last func() time.Time, idle func() bool) *FreshnessChecker {
	return &FreshnessChecker{name: name, maxAge: maxAge, last: last, idle: idle, now: time.Now}
}

func (c *FreshnessChecker) Name() string {
	return c.name
}

func (c *FreshnessChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: c.now(),
		Details:   make(map[string]interface{}),
	}
	if c.idle != nil && c.idle() {
		check.Status = StatusHealthy
		check.Message = "Paused"
		check.Details["paused"] = true
		return check
	}

	last := c.last()
	if last.IsZero() {
		check.Status = StatusDegraded
		check.Message = "Nothing received yet"
		return check
	}
	age := check.Timestamp.Sub(last)
	check.Details["last"] = last
	check.Details["age"] = age.String()
	if age > c.maxAge {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Last update %s ago", age.Truncate(time.Millisecond))
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Receiving"
	return check
}

// SessionReporter is implemented by frame.Session
type SessionReporter interface {
	Stats() frame.SessionStats
}

// CameraChecker reports whether the frame source is alive
type CameraChecker struct {
	session SessionReporter
	started func() bool
}

func NewCameraChecker(session SessionReporter, started func() bool) *CameraChecker {
	return &CameraChecker{session: session, started: started}
}

func (c *CameraChecker) Name() string {
	return "camera"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	st := c.session.Stats()
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"acquired":   st.Acquired,
			"degenerate": st.Degenerate,
			"mismatched": st.Mismatched,
		},
	}
	if st.Source != nil {
		check.Details["connected"] = st.Source.Connected
		check.Details["captured"] = st.Source.Captured
		check.Details["reconnects"] = st.Source.Reconnects
	}

	switch {
	case st.Error != "":
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Frame source exited: %s", st.Error)
	case !c.started():
		check.Status = StatusHealthy
		check.Message = "Camera not started"
	case st.Source != nil && !st.Source.Connected:
		check.Status = StatusDegraded
		check.Message = "Reconnecting to camera"
	default:
		check.Status = StatusHealthy
		check.Message = "Capturing"
	}
	return check
}

// Pinger is implemented by the journal
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks journal database connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// StorageChecker checks the data directory is writable
type StorageChecker struct {
	dataDir string
}

func NewStorageChecker(dataDir string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"data_dir": c.dataDir},
	}

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}
	probe, err := os.CreateTemp(c.dataDir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	probe.Close()
	os.Remove(filepath.Clean(probe.Name()))

	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
