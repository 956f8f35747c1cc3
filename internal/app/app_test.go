package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/camsense/internal/config"
	"github.com/vzahanych/camsense/internal/display"
	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/inference"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/motion"
	"github.com/vzahanych/camsense/internal/permission"
	"github.com/vzahanych/camsense/internal/preprocess"
	"github.com/vzahanych/camsense/internal/sensor"
	"github.com/vzahanych/camsense/internal/service"
)

type fakeEngine struct {
	spec   preprocess.InputSpec
	closed atomic.Bool
}

func (e *fakeEngine) InputSpec() preprocess.InputSpec { return e.spec }

func (e *fakeEngine) Detect(t *preprocess.Tensor) ([]inference.Prediction, error) {
	if err := inference.CheckShape(e.spec, t); err != nil {
		return nil, err
	}
	return []inference.Prediction{{Label: "cup", Score: 0.4}, {Label: "person", Score: 0.9}}, nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *fakeEngine) Delegate() string { return "xnnpack" }

type fakeAuthorizer struct {
	mu       sync.Mutex
	granted  bool
	grant    bool // outcome of a request
	wrong    bool // answer with a foreign request code
	requests int
}

func (a *fakeAuthorizer) Granted(p permission.Permission) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.granted
}

func (a *fakeAuthorizer) Request(ctx context.Context, perms []permission.Permission, code int, done func(int)) {
	a.mu.Lock()
	a.requests++
	a.mu.Unlock()
	go func() {
		a.mu.Lock()
		a.granted = a.grant
		wrong := a.wrong
		a.mu.Unlock()
		if wrong {
			code++
		}
		done(code)
	}()
}

type chanSensor struct {
	samples chan motion.Sample
}

func (s *chanSensor) Name() string { return "test-imu" }

func (s *chanSensor) Run(ctx context.Context, deliver func(motion.Sample)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case smp := <-s.samples:
			deliver(smp)
		}
	}
}

type fixture struct {
	cfg    *config.Config
	engine *fakeEngine
	auth   *fakeAuthorizer
	sensor *chanSensor
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(labels, []byte("???\nperson\ncup\n"), 0644))

	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)
	cfg.DataDir = dir
	cfg.Model.LabelsPath = labels
	cfg.Camera.Width = 64
	cfg.Camera.Height = 48
	cfg.Camera.FPS = 50
	cfg.Camera.RotationDegrees = 90
	cfg.Web.Enabled = false
	cfg.Health.Enabled = false
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(dir, "db", "journal.db")
	cfg.Journal.MinInterval = 0

	f := &fixture{
		cfg:    cfg,
		engine: &fakeEngine{spec: preprocess.InputSpec{Height: 16, Width: 16, DataType: preprocess.Uint8}},
		auth:   &fakeAuthorizer{granted: true, grant: true},
		sensor: &chanSensor{samples: make(chan motion.Sample, 16)},
	}
	f.deps = Deps{
		NewEngine: func(cfg *config.Config, labels []string, log *logger.Logger) (inference.Engine, error) {
			return f.engine, nil
		},
		NewSource: func(cfg *config.Config, preview frame.PreviewSink, log *logger.Logger) (frame.Source, error) {
			return NewSyntheticSource(cfg, preview)
		},
		NewSensor: func(cfg *config.Config, log *logger.Logger) (sensor.Source, error) {
			return f.sensor, nil
		},
		Authorizer: f.auth,
	}
	return f
}

func startApp(t *testing.T, f *fixture) *App {
	t.Helper()
	a, err := New(f.cfg, f.deps, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestApp_GrantedStartsCameraAndPresents(t *testing.T) {
	f := newFixture(t)
	a := startApp(t, f)

	assert.True(t, a.CameraStarted())
	require.Eventually(t, func() bool {
		return a.Display().Text(display.RegionLabel) == "person"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "0.9", a.Display().Text(display.RegionScore))

	st := a.Stats().(Stats)
	assert.Equal(t, "xnnpack", st.Delegate)
	require.NotNil(t, st.Geometry)
	assert.Equal(t, 90, st.Geometry.RotationDegrees)
	require.NotNil(t, st.Session.Source)
	assert.True(t, st.Session.Source.Connected)
	assert.Greater(t, st.Session.Source.Captured, uint64(0))
	assert.Empty(t, st.Session.Error)
	assert.Zero(t, f.auth.requests)
}

func TestApp_DeferredGrant(t *testing.T) {
	f := newFixture(t)
	f.auth.granted = false
	a := startApp(t, f)

	require.Eventually(t, a.CameraStarted, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.auth.requests)
}

func TestApp_DeniedStopsRun(t *testing.T) {
	for _, tc := range []struct {
		name  string
		grant bool
		wrong bool
	}{
		{"denied", false, false},
		{"foreign code", true, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.auth.granted = false
			f.auth.grant = tc.grant
			f.auth.wrong = tc.wrong

			a, err := New(f.cfg, f.deps, logger.NewNopLogger())
			require.NoError(t, err)

			errCh := make(chan error, 1)
			go func() { errCh <- a.Run(context.Background()) }()

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, permission.ErrDenied)
			case <-time.After(3 * time.Second):
				t.Fatal("Run did not return after denial")
			}
			assert.False(t, a.CameraStarted())
			require.NoError(t, a.Shutdown(context.Background()))
		})
	}
}

func TestApp_GrantAfterShutdownDoesNotStartCamera(t *testing.T) {
	f := newFixture(t)
	f.auth.granted = false
	f.auth.grant = false

	a, err := New(f.cfg, f.deps, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.False(t, a.CameraStarted())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	// a grant callback that was still queued when shutdown began
	a.onGranted()
	assert.False(t, a.CameraStarted())
	assert.Zero(t, a.session.Stats().Acquired)
	assert.Zero(t, a.analyzer.Stats().Analyzed)
}

// brokenSource fails straight away
type brokenSource struct{}

func (brokenSource) Name() string { return "broken" }

func (brokenSource) Run(ctx context.Context, deliver func(*frame.Frame)) error {
	return errors.New("device vanished")
}

func TestApp_SourceExitIsReported(t *testing.T) {
	f := newFixture(t)
	f.deps.NewSource = func(*config.Config, frame.PreviewSink, *logger.Logger) (frame.Source, error) {
		return brokenSource{}, nil
	}
	a, err := New(f.cfg, f.deps, logger.NewNopLogger())
	require.NoError(t, err)
	stopped := a.Events().Subscribe(service.EventTypeCameraStopped)

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	select {
	case ev := <-stopped:
		assert.Equal(t, "device vanished", ev.Data["error"])
	case <-time.After(2 * time.Second):
		t.Fatal("source exit not published")
	}
	assert.Equal(t, "device vanished", a.Stats().(Stats).Session.Error)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"clean", nil, 0},
		{"denied", permission.ErrDenied, 2},
		{"wrapped denial", fmt.Errorf("camera: %w", permission.ErrDenied), 2},
		{"other failure", errors.New("model"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestApp_MotionFromSensor(t *testing.T) {
	f := newFixture(t)
	a := startApp(t, f)
	changes := a.Events().Subscribe(service.EventTypeMotionChanged)

	for _, ts := range []int64{0, 500_000_000, 1_500_000_000} {
		f.sensor.samples <- motion.Sample{X: 2, Timestamp: ts}
	}

	require.Eventually(t, func() bool {
		return a.Display().Text(display.RegionMotion) == "moving"
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case ev := <-changes:
		assert.Equal(t, "stationary", ev.Data["from"])
		assert.Equal(t, "moving", ev.Data["to"])
	case <-time.After(2 * time.Second):
		t.Fatal("no motion event")
	}

	require.Eventually(t, func() bool {
		entries, err := a.journal.Recent(context.Background(), 50)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.Kind == "motion" && e.Label == "moving" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestApp_PauseUnregistersSensorOnly(t *testing.T) {
	f := newFixture(t)
	a := startApp(t, f)

	a.Pause()
	assert.False(t, a.Resumed())
	assert.False(t, a.listener.Registered())
	assert.True(t, a.CameraStarted(), "camera keeps running while paused")

	f.sensor.samples <- motion.Sample{X: 0, Timestamp: 1}
	require.Eventually(t, func() bool { return a.listener.Stats().Received == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, a.monitor.Stats().Samples)

	a.Resume()
	assert.True(t, a.listener.Registered())
}

func TestApp_PauseResumeAnalysis(t *testing.T) {
	f := newFixture(t)
	a := startApp(t, f)
	paused := a.Events().Subscribe(service.EventTypeAnalysisPaused)

	a.PauseAnalysis()
	assert.True(t, a.AnalysisPaused())
	select {
	case <-paused:
	case <-time.After(time.Second):
		t.Fatal("no pause event")
	}

	a.ResumeAnalysis()
	assert.False(t, a.AnalysisPaused())
}

func TestNew_Errors(t *testing.T) {
	t.Run("missing labels", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.Model.LabelsPath = filepath.Join(t.TempDir(), "none.txt")
		_, err := New(f.cfg, f.deps, logger.NewNopLogger())
		assert.ErrorIs(t, err, inference.ErrLabels)
	})

	t.Run("model load", func(t *testing.T) {
		f := newFixture(t)
		f.deps.NewEngine = func(*config.Config, []string, *logger.Logger) (inference.Engine, error) {
			return nil, inference.ErrModelLoad
		}
		_, err := New(f.cfg, f.deps, logger.NewNopLogger())
		assert.ErrorIs(t, err, inference.ErrModelLoad)
	})

	t.Run("unusable input spec closes engine", func(t *testing.T) {
		f := newFixture(t)
		f.engine.spec = preprocess.InputSpec{Height: 16, Width: 16, DataType: preprocess.Float32}
		_, err := New(f.cfg, f.deps, logger.NewNopLogger())
		assert.Error(t, err)
		assert.True(t, f.engine.closed.Load())
	})

	t.Run("source", func(t *testing.T) {
		f := newFixture(t)
		f.deps.NewSource = func(*config.Config, frame.PreviewSink, *logger.Logger) (frame.Source, error) {
			return nil, errors.New("no camera")
		}
		_, err := New(f.cfg, f.deps, logger.NewNopLogger())
		assert.Error(t, err)
		assert.True(t, f.engine.closed.Load())
	})
}

func TestNewSensorSource(t *testing.T) {
	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	src, err := NewSensorSource(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, src)

	cfg.Sensor.Enabled = true
	cfg.Sensor.ReplayFile = "imu.csv"
	src, err = NewSensorSource(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	assert.IsType(t, &sensor.FileSource{}, src)

	cfg.Sensor.ReplayFile = ""
	cfg.Sensor.Port = "/dev/ttyUSB0"
	src, err = NewSensorSource(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	assert.IsType(t, &sensor.SerialSource{}, src)
}
