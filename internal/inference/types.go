// Package inference defines the detection engine contract, label loading and
// SSD output decoding. The runtime binding lives in the tflite subpackage.
package inference

import (
	"errors"

	"github.com/vzahanych/camsense/internal/preprocess"
)

var (
	// ErrModelLoad is returned when the model file is missing or corrupt
	ErrModelLoad = errors.New("failed to load model")
	// ErrLabels is returned when the label file is missing or empty
	ErrLabels = errors.New("failed to load labels")
	// ErrShape is returned when a tensor does not match the engine input
	ErrShape = errors.New("tensor shape mismatch")
)

// BoundingBox is a detection box in normalized [0,1] image coordinates
type BoundingBox struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Prediction is one detected object
type Prediction struct {
	Label string      `json:"label"`
	Score float32     `json:"score"`
	Box   BoundingBox `json:"box"`
}

// Engine runs the detection model. Detect is synchronous and must not be
// called concurrently.
type Engine interface {
	InputSpec() preprocess.InputSpec
	Detect(t *preprocess.Tensor) ([]Prediction, error)
	Close() error
}

// CheckShape verifies t matches spec
func CheckShape(spec preprocess.InputSpec, t *preprocess.Tensor) error {
	if t == nil || t.Height != spec.Height || t.Width != spec.Width || t.DataType != spec.DataType {
		return ErrShape
	}
	switch t.DataType {
	case preprocess.Float32:
		if len(t.F32) != t.Len() {
			return ErrShape
		}
	default:
		if len(t.U8) != t.Len() {
			return ErrShape
		}
	}
	return nil
}
