package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/camsense/internal/config"
	"github.com/vzahanych/camsense/internal/display"
	"github.com/vzahanych/camsense/internal/journal"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/service"
)

//go:embed static/*
var staticFiles embed.FS

var staticContentFS fs.FS

func init() {
	var err error
	staticContentFS, err = fs.Sub(staticFiles, "static")
	if err != nil {
		staticContentFS = staticFiles
	}
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	routesOnce sync.Once
	addr       string

	display    DisplaySource // Optional display regions
	preview    PreviewSource // Optional raw frame preview
	controller Controller    // Optional analysis control
	history    History       // Optional journal
	devices    DeviceLister  // Optional camera discovery
	version    string
	startTime  time.Time
}

// DisplaySource is the set of text regions shown to the user
type DisplaySource interface {
	Snapshot() display.Snapshot
	Subscribe() (<-chan display.Snapshot, func())
}

// PreviewSource provides encoded preview frames
type PreviewSource interface {
	Latest() ([]byte, time.Time)
	Subscribe() (<-chan []byte, func())
}

// Controller pauses and resumes analysis and reports runtime stats
type Controller interface {
	PauseAnalysis()
	ResumeAnalysis()
	AnalysisPaused() bool
	Stats() interface{}
}

// History lists journal entries
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// DeviceLister enumerates local capture devices
type DeviceLister func() (interface{}, error)

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDisplay sets the display regions served over the API and WebSocket
func (s *Server) SetDisplay(d DisplaySource) {
	s.display = d
}

// SetPreview sets the preview frame source
func (s *Server) SetPreview(p PreviewSource) {
	s.preview = p
}

// SetController sets the analysis controller
func (s *Server) SetController(c Controller) {
	s.controller = c
}

// SetHistory sets the journal used by /api/history
func (s *Server) SetHistory(h History) {
	s.history = h
}

// SetDeviceLister sets the camera discovery function
func (s *Server) SetDeviceLister(fn DeviceLister) {
	s.devices = fn
}

// Handler returns the router with all routes installed
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	return s.addr
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()

	// WriteTimeout and IdleTimeout are disabled: preview and WebSocket
	// streams end on request context cancellation.
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", s.addr)
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", s.addr)
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopped)
	return s.httpServer.Shutdown(ctx)
}

// Name returns the service name
func (s *Server) Name() string {
	return "web-server"
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		analysis := api.Group("/analysis")
		{
			analysis.POST("/pause", s.handlePause)
			analysis.POST("/resume", s.handleResume)
		}

		api.GET("/preview", s.handleMJPEGStream)
		api.GET("/preview/frame", s.handleSingleFrame)
		api.GET("/display", s.handleDisplay)
		api.GET("/display/ws", s.handleDisplayWebSocket)
		api.GET("/history", s.handleHistory)
		api.GET("/devices", s.handleDevices)
	}

	s.router.GET("/", s.handleIndex)

	s.router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		s.handleIndex(c)
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
