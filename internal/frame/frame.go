// Package frame defines raw camera frames, the single-slot mailbox that hands
// them to the analyzer, and the capture session that latches frame geometry.
package frame

import (
	"image"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"
)

// Format identifies the pixel layout of a frame buffer
type Format int

const (
	// FormatRGBA8888 is 4 bytes per pixel, R G B A order
	FormatRGBA8888 Format = iota
)

// BytesPerPixel returns the pixel size for the format
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888:
		return 4
	default:
		return 0
	}
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA_8888"
	default:
		return "unknown"
	}
}

// Frame is a raw pixel buffer plus the rotation hint supplied at acquisition.
// A frame is owned by its source until Close is called.
type Frame struct {
	Pix             []byte
	Width           int
	Height          int
	Stride          int
	Format          Format
	RotationDegrees int
	Timestamp       time.Time
	Sequence        uint64

	release func(*Frame)
	closed  atomic.Bool
}

// New allocates an unpooled RGBA frame
func New(width, height int) *Frame {
	return &Frame{
		Pix:    make([]byte, width*height*4),
		Width:  width,
		Height: height,
		Stride: width * 4,
		Format: FormatRGBA8888,
	}
}

// FromImage copies img into a new RGBA frame
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy())
	rgba := f.Image()
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return f
}

// Close releases the frame back to its source. Safe to call more than once.
func (f *Frame) Close() {
	if f == nil || !f.closed.CompareAndSwap(false, true) {
		return
	}
	if f.release != nil {
		f.release(f)
	}
}

// Closed reports whether Close has been called
func (f *Frame) Closed() bool {
	return f.closed.Load()
}

// Degenerate reports whether the frame geometry cannot describe an image
func (f *Frame) Degenerate() bool {
	bpp := f.Format.BytesPerPixel()
	if f.Width <= 0 || f.Height <= 0 || bpp == 0 {
		return true
	}
	if f.Stride < f.Width*bpp {
		return true
	}
	return len(f.Pix) < f.Stride*(f.Height-1)+f.Width*bpp
}

// Image wraps the pixel buffer without copying. The result is only valid
// until the frame is closed.
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Stride,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Clone copies the frame into an unpooled frame that owns its pixels
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Pix:             make([]byte, len(f.Pix)),
		Width:           f.Width,
		Height:          f.Height,
		Stride:          f.Stride,
		Format:          f.Format,
		RotationDegrees: f.RotationDegrees,
		Timestamp:       f.Timestamp,
		Sequence:        f.Sequence,
	}
	copy(c.Pix, f.Pix)
	return c
}

// Pool recycles frame buffers of one size so capture does not allocate per frame
type Pool struct {
	width  int
	height int
	pool   sync.Pool
	seq    atomic.Uint64
}

// NewPool creates a pool of width x height RGBA frames
func NewPool(width, height int) *Pool {
	p := &Pool{width: width, height: height}
	p.pool.New = func() any {
		return make([]byte, width*height*4)
	}
	return p
}

// Get returns a frame whose Close puts the buffer back into the pool
func (p *Pool) Get() *Frame {
	pix := p.pool.Get().([]byte)
	return &Frame{
		Pix:       pix,
		Width:     p.width,
		Height:    p.height,
		Stride:    p.width * 4,
		Format:    FormatRGBA8888,
		Timestamp: time.Now(),
		Sequence:  p.seq.Add(1),
		release: func(f *Frame) {
			p.pool.Put(f.Pix[:cap(f.Pix)])
			f.Pix = nil
		},
	}
}

// Size returns the frame dimensions produced by the pool
func (p *Pool) Size() (int, int) {
	return p.width, p.height
}
