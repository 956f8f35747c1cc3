// Package camera captures frames from V4L2 devices, video files and stream
// URLs through OpenCV.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/logger"
)

// Config contains capture settings
type Config struct {
	// Device is a V4L2 index ("0"), a device node, a file or a stream URL
	Device            string
	Width             int
	Height            int
	FPS               int
	RotationDegrees   int
	PreviewFPS        int
	PreviewQuality    int
	Preview           frame.PreviewSink
	ReconnectInterval time.Duration
}

// Capture is a frame.Source reading from an OpenCV VideoCapture
type Capture struct {
	cfg    Config
	logger *logger.Logger
	pool   *frame.Pool

	captured    atomic.Uint64
	reconnects  atomic.Uint64
	connected   atomic.Bool
	lastFrameAt atomic.Int64
}

var _ frame.StatsReporter = (*Capture)(nil)

// New creates a capture source
func New(cfg Config, log *logger.Logger) *Capture {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.PreviewQuality <= 0 {
		cfg.PreviewQuality = 80
	}
	return &Capture{cfg: cfg, logger: log}
}

// Name returns the device string
func (c *Capture) Name() string {
	return c.cfg.Device
}

// Run captures frames until ctx is cancelled, reopening the device after
// read failures.
func (c *Capture) Run(ctx context.Context, deliver func(*frame.Frame)) error {
	for {
		err := c.capture(ctx, deliver)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("Camera capture failed", "device", c.cfg.Device, "error", err)
		c.reconnects.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Capture) open() (*gocv.VideoCapture, error) {
	var device interface{} = c.cfg.Device
	if n, err := strconv.Atoi(c.cfg.Device); err == nil {
		device = n
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: device not opened", c.cfg.Device)
	}

	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}
	if c.cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.cfg.FPS))
	}
	// keep the driver queue short so frames are fresh
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return vc, nil
}

func (c *Capture) capture(ctx context.Context, deliver func(*frame.Frame)) error {
	vc, err := c.open()
	if err != nil {
		return err
	}
	defer vc.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	rgba := gocv.NewMat()
	defer rgba.Close()

	c.connected.Store(true)
	c.logger.Info("Camera opened",
		"device", c.cfg.Device,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS),
	)

	var previewEvery time.Duration
	if c.cfg.PreviewFPS > 0 && c.cfg.Preview != nil {
		previewEvery = time.Second / time.Duration(c.cfg.PreviewFPS)
	}
	var lastPreview time.Time

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := vc.Read(&bgr); !ok {
			return errors.New("read failed")
		}
		if bgr.Empty() {
			continue
		}
		now := time.Now()

		if previewEvery > 0 && now.Sub(lastPreview) >= previewEvery {
			c.publishPreview(bgr)
			lastPreview = now
		}

		if err := gocv.CvtColor(bgr, &rgba, gocv.ColorBGRToRGBA); err != nil {
			return fmt.Errorf("convert frame: %w", err)
		}
		f, err := c.toFrame(rgba)
		if err != nil {
			return err
		}
		f.Timestamp = now
		f.RotationDegrees = c.cfg.RotationDegrees

		c.captured.Add(1)
		c.lastFrameAt.Store(now.UnixNano())
		deliver(f)
	}
}

func (c *Capture) toFrame(rgba gocv.Mat) (*frame.Frame, error) {
	w, h := rgba.Cols(), rgba.Rows()
	if c.pool == nil {
		c.pool = frame.NewPool(w, h)
	} else if pw, ph := c.pool.Size(); pw != w || ph != h {
		c.logger.Warn("Camera resolution changed", "width", w, "height", h)
		c.pool = frame.NewPool(w, h)
	}

	data, err := rgba.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("frame data: %w", err)
	}
	f := c.pool.Get()
	if len(data) < len(f.Pix) {
		f.Close()
		return nil, fmt.Errorf("frame data: %d bytes for %dx%d", len(data), w, h)
	}
	copy(f.Pix, data)
	return f, nil
}

func (c *Capture) publishPreview(bgr gocv.Mat) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, bgr, []int{int(gocv.IMWriteJpegQuality), c.cfg.PreviewQuality})
	if err != nil {
		c.logger.Debug("Preview encode failed", "error", err)
		return
	}
	defer buf.Close()
	img := make([]byte, len(buf.GetBytes()))
	copy(img, buf.GetBytes())
	c.cfg.Preview.PublishPreview(img)
}

// SourceStats returns a snapshot of the capture counters
func (c *Capture) SourceStats() frame.SourceStats {
	st := frame.SourceStats{
		Connected:  c.connected.Load(),
		Captured:   c.captured.Load(),
		Reconnects: c.reconnects.Load(),
	}
	if ns := c.lastFrameAt.Load(); ns > 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	return st
}
