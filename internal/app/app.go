// Package app wires the camera session, analyzer, motion monitor and the
// outer services together and drives the resume/pause lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/camsense/internal/analyzer"
	"github.com/vzahanych/camsense/internal/config"
	"github.com/vzahanych/camsense/internal/display"
	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/health"
	"github.com/vzahanych/camsense/internal/inference"
	"github.com/vzahanych/camsense/internal/journal"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/motion"
	"github.com/vzahanych/camsense/internal/permission"
	"github.com/vzahanych/camsense/internal/preprocess"
	"github.com/vzahanych/camsense/internal/presenter"
	"github.com/vzahanych/camsense/internal/sensor"
	"github.com/vzahanych/camsense/internal/service"
	"github.com/vzahanych/camsense/internal/web"
)

// ExitCode maps the error Run returned to a process exit status. A denied
// camera permission gets its own code so supervisors can tell it apart.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, permission.ErrDenied):
		return 2
	default:
		return 1
	}
}

// Deps are the hardware bindings. They are injected so the lifecycle can run
// without a camera or a model runtime.
type Deps struct {
	NewEngine func(cfg *config.Config, labels []string, log *logger.Logger) (inference.Engine, error)
	NewSource func(cfg *config.Config, preview frame.PreviewSink, log *logger.Logger) (frame.Source, error)
	// NewSensor may return a nil Source when no sensor is configured
	NewSensor  func(cfg *config.Config, log *logger.Logger) (sensor.Source, error)
	Authorizer permission.Authorizer
	Devices    web.DeviceLister
	Version    string
}

// App owns every component for one run
type App struct {
	cfg    *config.Config
	logger *logger.Logger

	engine    inference.Engine
	services  *service.Manager
	loop      *display.Loop
	display   *display.Display
	preview   *frame.PreviewHub
	mailbox   *frame.Mailbox
	session   *frame.Session
	analyzer  *analyzer.Analyzer
	gate      *permission.Gate
	monitor   *motion.Monitor
	listener  *sensor.Listener
	journal   *journal.Journal
	webServer *web.Server
	health    *health.Manager
	events    *service.ServiceBase

	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error

	mu            sync.Mutex
	resumed       bool
	cameraStarted bool
	shuttingDown  bool
}

// New loads the model and builds every component. Start order is fixed:
// labels and model, input spec, pipeline check, UI loop, services.
func New(cfg *config.Config, deps Deps, log *logger.Logger) (*App, error) {
	if deps.NewEngine == nil || deps.NewSource == nil || deps.Authorizer == nil {
		return nil, errors.New("engine, source and authorizer are required")
	}

	labels, err := inference.LoadLabels(cfg.Model.LabelsPath)
	if err != nil {
		return nil, err
	}
	engine, err := deps.NewEngine(cfg, labels, log.Named("inference"))
	if err != nil {
		return nil, err
	}

	spec := engine.InputSpec()
	if _, err := preprocess.NewPipeline(spec, cfg.Camera.RotationDegrees); err != nil {
		engine.Close()
		return nil, fmt.Errorf("input spec %dx%d %s: %w", spec.Width, spec.Height, spec.DataType, err)
	}
	log.Info("Model loaded",
		"path", cfg.Model.Path,
		"labels", len(labels),
		"input", fmt.Sprintf("%dx%dx%d", spec.Height, spec.Width, preprocess.Channels),
		"type", spec.DataType.String(),
	)

	a := &App{
		cfg:      cfg,
		logger:   log,
		engine:   engine,
		services: service.NewManager(log.Named("services")),
		loop:     display.NewLoop(64, log.Named("ui")),
		display:  display.New(),
		preview:  frame.NewPreviewHub(),
		mailbox:  frame.NewMailbox(),
		fatal:    make(chan error, 1),
	}
	a.monitor = motion.NewMonitor(motion.Config{
		Threshold:    cfg.Motion.Threshold,
		Sustain:      cfg.Motion.Sustain,
		MovingLabel:  cfg.Motion.MovingLabel,
		StoppedLabel: cfg.Motion.StoppedLabel,
	})
	a.services.Register(a.loop)

	a.events = service.NewServiceBase("app", log)
	a.events.SetEventBus(a.services.GetEventBus())

	if err := a.build(deps); err != nil {
		engine.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(deps Deps) error {
	cfg := a.cfg
	log := a.logger

	source, err := deps.NewSource(cfg, a.preview, log.Named("camera"))
	if err != nil {
		return fmt.Errorf("camera source: %w", err)
	}
	a.session = frame.NewSession(source, a.mailbox, log.Named("frames"))

	base := service.NewServiceBase("analyzer", log)
	base.SetEventBus(a.services.GetEventBus())
	a.analyzer = analyzer.New(a.engine, a.mailbox, a.loop, presenter.New(a.display), base)

	a.gate = permission.NewGate(deps.Authorizer, a.loop, permission.GateConfig{
		OnGranted: a.onGranted,
		OnDenied:  a.onDenied,
	}, log.Named("permission"))

	if cfg.Journal.Enabled {
		j, err := journal.New(journal.Config{
			Path:        cfg.Journal.Path,
			MinInterval: cfg.Journal.MinInterval,
			Retention:   cfg.Journal.Retention,
		}, service.NewServiceBase("journal", log))
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		a.journal = j
		a.services.Register(j)
	}

	if deps.NewSensor != nil {
		src, err := deps.NewSensor(cfg, log.Named("sensor"))
		if err != nil {
			return fmt.Errorf("sensor: %w", err)
		}
		if src != nil {
			a.listener = sensor.NewListener(src, a.loop, service.NewServiceBase("sensor", log))
			a.services.Register(a.listener)
		}
	}

	if cfg.Web.Enabled {
		a.webServer = web.NewServer(&cfg.Web, log.Named("web"))
		a.webServer.SetVersion(deps.Version)
		a.webServer.SetDisplay(a.display)
		a.webServer.SetPreview(a.preview)
		a.webServer.SetController(a)
		if a.journal != nil {
			a.webServer.SetHistory(a.journal)
		}
		a.webServer.SetDeviceLister(deps.Devices)
		a.services.Register(a.webServer)
	}

	if cfg.Health.Enabled {
		a.health = health.NewManager(log.Named("health"), a.services, fmt.Sprintf(":%d", cfg.Health.Port))
		a.registerCheckers()
		a.services.Register(a.health)
	}
	return nil
}

func (a *App) registerCheckers() {
	a.health.RegisterChecker(health.NewModelChecker(a.cfg.Model.Path, a.Delegate))
	a.health.RegisterChecker(health.NewFreshnessChecker("frames", 5*time.Second,
		func() time.Time { return a.analyzer.Stats().LastFrame },
		func() bool { return a.AnalysisPaused() || !a.CameraStarted() },
	))
	a.health.RegisterChecker(health.NewCameraChecker(a.session, a.CameraStarted))
	if a.listener != nil {
		a.health.RegisterChecker(health.NewFreshnessChecker("sensor", 5*time.Second,
			func() time.Time { return a.listener.Stats().LastSample },
			func() bool { return !a.listener.Registered() },
		))
	}
	if a.journal != nil {
		a.health.RegisterChecker(health.NewDatabaseChecker(a.journal))
	}
	a.health.RegisterChecker(health.NewStorageChecker(a.cfg.DataDir))
	a.health.RegisterChecker(health.NewSystemChecker(a.cfg.DataDir))
}

// Start starts the services and performs the first resume
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	if err := a.services.Start(a.ctx); err != nil {
		return err
	}
	a.Resume()
	return nil
}

// Run starts the app and blocks until ctx is done or permission is denied
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	select {
	case <-a.ctx.Done():
		return nil
	case err := <-a.fatal:
		return err
	}
}

// Resume re-checks permissions and registers the sensor listener. The
// camera starts now if permission is already granted, otherwise when the
// request comes back.
func (a *App) Resume() {
	a.mu.Lock()
	a.resumed = true
	a.mu.Unlock()

	if a.listener != nil {
		a.listener.Register(a.onSample)
	}
	if a.gate.Check(a.ctx) {
		a.startCamera()
	}
}

// Pause unregisters the sensor listener. The camera keeps running.
func (a *App) Pause() {
	a.mu.Lock()
	a.resumed = false
	a.mu.Unlock()

	if a.listener != nil {
		a.listener.Unregister()
	}
}

// Resumed reports whether the app is between Resume and Pause
func (a *App) Resumed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resumed
}

func (a *App) onGranted() {
	a.events.PublishEvent(service.EventTypePermissionGranted, map[string]interface{}{"code": a.gate.Code()})
	a.startCamera()
}

func (a *App) onDenied(err error) {
	a.events.PublishEvent(service.EventTypePermissionDenied, map[string]interface{}{"code": a.gate.Code()})
	select {
	case a.fatal <- err:
	default:
	}
}

// startCamera starts the analyzer, then the session feeding it
func (a *App) startCamera() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cameraStarted || a.shuttingDown {
		return
	}

	if err := a.analyzer.Start(a.ctx); err != nil {
		a.logger.Error("Failed to start analyzer", "error", err)
		return
	}
	if err := a.session.Start(a.ctx); err != nil {
		a.logger.Error("Failed to start camera session", "error", err)
		_ = a.analyzer.Stop(context.Background())
		return
	}
	a.cameraStarted = true
	a.events.PublishEvent(service.EventTypeCameraStarted, nil)
	a.logger.Info("Camera started")

	go a.watchSession(a.session.Done())
}

// watchSession reports a frame source that exits on its own
func (a *App) watchSession(done <-chan struct{}) {
	<-done
	err := a.session.Err()
	if err == nil {
		return
	}
	a.logger.Error("Camera source exited", "error", err)
	a.events.PublishEvent(service.EventTypeCameraStopped, map[string]interface{}{"error": err.Error()})
}

// CameraStarted reports whether the camera session is running
func (a *App) CameraStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cameraStarted
}

func (a *App) onSample(s motion.Sample) {
	label, tr, changed := a.monitor.Update(s)
	a.display.SetText(display.RegionMotion, label)
	if !changed {
		return
	}
	a.logger.Debug("Motion state changed", "from", tr.From, "to", tr.To)
	a.events.PublishEvent(service.EventTypeMotionChanged, map[string]interface{}{
		"from":             tr.From.String(),
		"to":               tr.To.String(),
		"label":            label,
		"sensor_timestamp": tr.Timestamp,
	})
}

// PauseAnalysis stops frames from reaching the analyzer
func (a *App) PauseAnalysis() {
	if a.session.Paused() {
		return
	}
	a.session.Pause()
	a.events.PublishEvent(service.EventTypeAnalysisPaused, nil)
	a.logger.Info("Analysis paused")
}

// ResumeAnalysis lets frames reach the analyzer again
func (a *App) ResumeAnalysis() {
	if !a.session.Paused() {
		return
	}
	a.session.Resume()
	a.events.PublishEvent(service.EventTypeAnalysisResume, nil)
	a.logger.Info("Analysis resumed")
}

// AnalysisPaused reports the analysis pause flag
func (a *App) AnalysisPaused() bool {
	return a.session.Paused()
}

// Delegate returns the accelerator the engine runs on
func (a *App) Delegate() string {
	if d, ok := a.engine.(interface{ Delegate() string }); ok {
		return d.Delegate()
	}
	return "none"
}

// Display returns the display regions
func (a *App) Display() *display.Display {
	return a.display
}

// Events returns the event bus
func (a *App) Events() *service.EventBus {
	return a.services.GetEventBus()
}

// Stats is the runtime snapshot served on /api/status
type Stats struct {
	Resumed   bool                 `json:"resumed"`
	Camera    bool                 `json:"camera"`
	Delegate  string               `json:"delegate"`
	Geometry  *frame.Geometry      `json:"geometry,omitempty"`
	Session   frame.SessionStats   `json:"session"`
	Analyzer  analyzer.Stats       `json:"analyzer"`
	Motion    motion.Stats         `json:"motion"`
	Sensor    *sensor.Stats        `json:"sensor,omitempty"`
	UIDropped uint64               `json:"ui_dropped"`
	Pending   bool                 `json:"permission_pending"`
	Services  map[string]string    `json:"services"`
	Spec      preprocess.InputSpec `json:"input_spec"`
}

// Stats returns a runtime snapshot
func (a *App) Stats() interface{} {
	st := Stats{
		Resumed:   a.Resumed(),
		Camera:    a.CameraStarted(),
		Delegate:  a.Delegate(),
		Session:   a.session.Stats(),
		Analyzer:  a.analyzer.Stats(),
		Motion:    a.monitor.Stats(),
		UIDropped: a.loop.Dropped(),
		Pending:   a.gate.Pending(),
		Services:  make(map[string]string),
		Spec:      a.engine.InputSpec(),
	}
	if g, ok := a.session.Geometry(); ok {
		st.Geometry = &g
	}
	if a.listener != nil {
		ls := a.listener.Stats()
		st.Sensor = &ls
	}
	for name, status := range a.services.GetAllStatuses() {
		st.Services[name] = string(status.GetStatus())
	}
	return st
}

// Shutdown stops the camera, the analyzer and every service, then releases
// the model.
func (a *App) Shutdown(ctx context.Context) error {
	a.Pause()

	var errs []error
	a.mu.Lock()
	started := a.cameraStarted
	a.cameraStarted = false
	a.shuttingDown = true
	a.mu.Unlock()
	if started {
		if err := a.session.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("stop session: %w", err))
		}
		if err := a.analyzer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop analyzer: %w", err))
		}
	}
	a.mailbox.Close()

	if err := a.services.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	return errors.Join(errs...)
}
