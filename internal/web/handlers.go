package web

import (
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vzahanych/camsense/internal/service"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// local network UI
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web-server",
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	resp := gin.H{
		"status":         health,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.display != nil {
		resp["display"] = s.display.Snapshot()
	}
	if s.controller != nil {
		resp["paused"] = s.controller.AnalysisPaused()
		resp["stats"] = s.controller.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePause(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analysis controller not available"})
		return
	}
	s.controller.PauseAnalysis()
	c.JSON(http.StatusOK, gin.H{"paused": s.controller.AnalysisPaused()})
}

func (s *Server) handleResume(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analysis controller not available"})
		return
	}
	s.controller.ResumeAnalysis()
	c.JSON(http.StatusOK, gin.H{"paused": s.controller.AnalysisPaused()})
}

// handleMJPEGStream streams raw preview frames as multipart JPEG
func (s *Server) handleMJPEGStream(c *gin.Context) {
	if s.preview == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Preview not available"})
		return
	}

	frames, cancel := s.preview.Subscribe()
	defer cancel()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	writePart := func(w io.Writer, img []byte) bool {
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(img)); err != nil {
			return false
		}
		if _, err := w.Write(img); err != nil {
			return false
		}
		_, err := io.WriteString(w, "\r\n")
		return err == nil
	}

	if img, _ := s.preview.Latest(); len(img) > 0 {
		if !writePart(c.Writer, img) {
			return
		}
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case img, ok := <-frames:
			if !ok {
				return false
			}
			return writePart(w, img)
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// handleSingleFrame returns the latest preview JPEG
func (s *Server) handleSingleFrame(c *gin.Context) {
	if s.preview == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Preview not available"})
		return
	}
	img, at := s.preview.Latest()
	if len(img) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No frame captured yet"})
		return
	}
	c.Header("Last-Modified", at.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, "image/jpeg", img)
}

func (s *Server) handleDisplay(c *gin.Context) {
	if s.display == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Display not available"})
		return
	}
	c.JSON(http.StatusOK, s.display.Snapshot())
}

// handleDisplayWebSocket pushes a snapshot on connect and on every change
func (s *Server) handleDisplayWebSocket(c *gin.Context) {
	if s.display == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Display not available"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.LogWarn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.display.Subscribe()
	defer cancel()

	// reader: handles pongs and notices the client going away
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.LogDebug("Display viewer disconnected", "error", err)
				}
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(s.display.Snapshot()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleHistory lists recent journal entries
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Journal not available"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to read history", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleDevices(c *gin.Context) {
	if s.devices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Device discovery not available"})
		return
	}
	devices, err := s.devices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Discovery failed: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) handleIndex(c *gin.Context) {
	content, err := fs.ReadFile(staticContentFS, "index.html")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read index.html"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", content)
}
