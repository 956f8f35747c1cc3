// Package preprocess turns a raw camera frame into the fixed-size tensor the
// detection model expects: centre crop, nearest-neighbour resize, rotation
// correction and normalization, always in that order.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/vzahanych/camsense/internal/frame"
)

// ErrDegenerateFrame is returned for frames with zero width or height or a
// pixel buffer too short for their geometry.
var ErrDegenerateFrame = errors.New("degenerate frame geometry")

// Pipeline is the fixed four-step preprocessing configuration built once from
// the engine's input spec and the latched rotation hint.
type Pipeline struct {
	spec  InputSpec
	turns int
}

// NewPipeline builds a pipeline for spec and a rotation hint in degrees
func NewPipeline(spec InputSpec, rotationDegrees int) (*Pipeline, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if rotationDegrees%90 != 0 {
		return nil, fmt.Errorf("rotation must be a multiple of 90, got %d", rotationDegrees)
	}
	return &Pipeline{spec: spec, turns: QuarterTurns(rotationDegrees)}, nil
}

// Spec returns the input spec the pipeline produces tensors for
func (p *Pipeline) Spec() InputSpec {
	return p.spec
}

// Steps describes the configured operations, in order
func (p *Pipeline) Steps() []string {
	norm := "identity"
	if p.spec.DataType == Float32 {
		norm = fmt.Sprintf("(v-%g)/%g", p.spec.Mean, p.spec.Std)
	}
	return []string{
		"center_crop(min_side)",
		fmt.Sprintf("resize(%dx%d, nearest)", p.spec.Width, p.spec.Height),
		fmt.Sprintf("rot90(k=%d)", p.turns),
		fmt.Sprintf("normalize(%s, %s)", p.spec.DataType, norm),
	}
}

// Process converts f into a tensor. The frame is read but not closed.
func (p *Pipeline) Process(f *frame.Frame) (*Tensor, error) {
	if f == nil || f.Degenerate() {
		return nil, ErrDegenerateFrame
	}
	return p.ProcessImage(f.Image())
}

// ProcessImage runs the pipeline on an arbitrary image
func (p *Pipeline) ProcessImage(img image.Image) (*Tensor, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrDegenerateFrame
	}

	// An odd number of quarter turns swaps the axes, so resize to the
	// transposed shape first.
	w, h := p.spec.Width, p.spec.Height
	if p.turns%2 != 0 {
		w, h = h, w
	}

	square := CenterCrop(img)
	resized := Resize(square, w, h)
	upright := Rotate90(resized, p.turns)
	t := Normalize(upright, p.spec)

	if t.Height != p.spec.Height || t.Width != p.spec.Width {
		return nil, fmt.Errorf("tensor shape %dx%d does not match input %dx%d",
			t.Height, t.Width, p.spec.Height, p.spec.Width)
	}
	return t, nil
}
