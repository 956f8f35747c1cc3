package preprocess

import "fmt"

// DataType is the element type of the engine's input tensor
type DataType int

const (
	Uint8 DataType = iota
	Float32
)

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// InputSpec describes the input tensor the engine declares: height x width x 3
// of DataType. Mean and Std are used for float inputs only.
type InputSpec struct {
	Height   int
	Width    int
	DataType DataType
	Mean     float32
	Std      float32
}

// Validate checks the spec describes a usable input shape
func (s InputSpec) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("invalid input shape %dx%d", s.Height, s.Width)
	}
	if s.DataType == Float32 && s.Std == 0 {
		return fmt.Errorf("float input requires a non-zero std")
	}
	return nil
}

// Channels is fixed at RGB
const Channels = 3

// Tensor is a Height x Width x 3 RGB array. Exactly one of U8 and F32 is set,
// according to DataType.
type Tensor struct {
	Height   int
	Width    int
	DataType DataType
	U8       []uint8
	F32      []float32
}

// Shape returns {height, width, channels}
func (t *Tensor) Shape() [3]int {
	return [3]int{t.Height, t.Width, Channels}
}

// Len returns the number of elements
func (t *Tensor) Len() int {
	return t.Height * t.Width * Channels
}

// At returns the element at (y, x, c) as float32
func (t *Tensor) At(y, x, c int) float32 {
	i := (y*t.Width+x)*Channels + c
	if t.DataType == Float32 {
		return t.F32[i]
	}
	return float32(t.U8[i])
}
