package frame

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
)

// SyntheticConfig configures the built-in solid colour source
type SyntheticConfig struct {
	Width           int
	Height          int
	FPS             int
	RotationDegrees int
	Color           color.RGBA
	PreviewFPS      int
	PreviewQuality  int
	Preview         PreviewSink
}

// Synthetic produces solid colour frames. It stands in for a camera in tests
// and on hosts without a capture device.
type Synthetic struct {
	cfg  SyntheticConfig
	pool *Pool

	running  atomic.Bool
	captured atomic.Uint64
	lastAt   atomic.Int64
}

// NewSynthetic creates a synthetic source
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.PreviewQuality <= 0 {
		cfg.PreviewQuality = 80
	}
	return &Synthetic{cfg: cfg, pool: NewPool(cfg.Width, cfg.Height)}
}

// Name returns the source name
func (s *Synthetic) Name() string {
	return "synthetic"
}

// Run delivers frames at the configured rate until ctx is done
func (s *Synthetic) Run(ctx context.Context, deliver func(*Frame)) error {
	if s.cfg.Width <= 0 || s.cfg.Height <= 0 {
		return fmt.Errorf("synthetic source: invalid size %dx%d", s.cfg.Width, s.cfg.Height)
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	s.running.Store(true)
	defer s.running.Store(false)

	var lastPreview time.Time
	previewEvery := time.Duration(0)
	if s.cfg.PreviewFPS > 0 {
		previewEvery = time.Second / time.Duration(s.cfg.PreviewFPS)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			f := s.Next()
			if s.cfg.Preview != nil && previewEvery > 0 && now.Sub(lastPreview) >= previewEvery {
				if jpg, err := EncodeJPEG(f, s.cfg.PreviewQuality); err == nil {
					s.cfg.Preview.PublishPreview(jpg)
				}
				lastPreview = now
			}
			s.captured.Add(1)
			s.lastAt.Store(now.UnixNano())
			deliver(f)
		}
	}
}

// SourceStats returns the frame counters
func (s *Synthetic) SourceStats() SourceStats {
	st := SourceStats{Connected: s.running.Load(), Captured: s.captured.Load()}
	if ns := s.lastAt.Load(); ns > 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	return st
}

// Next renders one frame
func (s *Synthetic) Next() *Frame {
	f := s.pool.Get()
	c := s.cfg.Color
	for i := 0; i+3 < len(f.Pix); i += 4 {
		f.Pix[i] = c.R
		f.Pix[i+1] = c.G
		f.Pix[i+2] = c.B
		f.Pix[i+3] = 0xff
	}
	f.RotationDegrees = s.cfg.RotationDegrees
	return f
}

// EncodeJPEG encodes the frame as a JPEG preview image
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, f.Image(), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseHexColor parses "#rrggbb" or "rrggbb"
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
