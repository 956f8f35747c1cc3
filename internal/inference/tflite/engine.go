// Package tflite runs SSD detection models with the TensorFlow Lite C runtime.
package tflite

import (
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"github.com/mattn/go-tflite/delegates/xnnpack"

	"github.com/vzahanych/camsense/internal/inference"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/preprocess"
)

//go:generate sh ../../../assets/fetch-model.sh ../../../assets

// Delegate names accepted in Config.Delegate
const (
	DelegateNone    = "none"
	DelegateXNNPACK = "xnnpack"
	DelegateEdgeTPU = "edgetpu"
)

// Config contains engine settings
type Config struct {
	ModelPath   string
	Delegate    string
	NumThreads  int
	Labels      []string
	LabelOffset int
	ObjectCount int
	Mean        float32 // float inputs only
	Std         float32
}

// Engine is an inference.Engine backed by a TFLite interpreter
type Engine struct {
	logger      *logger.Logger
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	delegate    delegates.Delegater
	delegateUse string
	spec        preprocess.InputSpec
	decoder     inference.SSDDecoder

	mu sync.Mutex
}

// New loads the model, builds the interpreter and queries the input shape.
// A delegate that cannot be created or applied is dropped with a warning;
// the engine then runs on the default CPU kernels.
func New(cfg Config, log *logger.Logger) (*Engine, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", inference.ErrModelLoad, err)
	}
	model := tflite.NewModelFromFile(cfg.ModelPath)
	if model == nil {
		return nil, fmt.Errorf("%w: cannot parse %s", inference.ErrModelLoad, cfg.ModelPath)
	}

	e := &Engine{
		logger: log,
		model:  model,
		decoder: inference.SSDDecoder{
			Labels:      cfg.Labels,
			LabelOffset: cfg.LabelOffset,
			ObjectCount: cfg.ObjectCount,
		},
	}

	d := newDelegate(cfg, log)
	err := buildWithFallback(d, cfg.Delegate, func(d delegates.Delegater) error {
		return e.build(cfg, d)
	}, log)
	if err != nil {
		e.Close()
		return nil, err
	}

	input := e.interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 || input.Dim(3) != 3 {
		e.Close()
		return nil, fmt.Errorf("%w: unexpected input tensor", inference.ErrModelLoad)
	}
	e.spec = preprocess.InputSpec{
		Height: input.Dim(1),
		Width:  input.Dim(2),
		Mean:   cfg.Mean,
		Std:    cfg.Std,
	}
	switch input.Type() {
	case tflite.UInt8:
		e.spec.DataType = preprocess.Uint8
	case tflite.Float32:
		e.spec.DataType = preprocess.Float32
	default:
		e.Close()
		return nil, fmt.Errorf("%w: unsupported input type %v", inference.ErrModelLoad, input.Type())
	}
	if e.interpreter.GetOutputTensorCount() < 4 {
		e.Close()
		return nil, fmt.Errorf("%w: expected 4 SSD outputs, got %d", inference.ErrModelLoad, e.interpreter.GetOutputTensorCount())
	}

	log.Info("Detection model loaded",
		"model", cfg.ModelPath,
		"input", fmt.Sprintf("%dx%dx3", e.spec.Height, e.spec.Width),
		"type", e.spec.DataType.String(),
		"delegate", e.Delegate(),
	)
	return e, nil
}

// buildWithFallback runs build with d and, if d is rejected, deletes it and
// builds again without a delegate.
func buildWithFallback(d delegates.Delegater, name string, build func(delegates.Delegater) error, log *logger.Logger) error {
	err := build(d)
	if err == nil || d == nil {
		return err
	}
	log.Warn("Delegate rejected, falling back to default execution",
		"delegate", name,
		"error", err,
	)
	d.Delete()
	return build(nil)
}

func newDelegate(cfg Config, log *logger.Logger) delegates.Delegater {
	switch cfg.Delegate {
	case DelegateXNNPACK:
		d := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(cfg.NumThreads, 1))})
		if d == nil {
			log.Warn("XNNPACK delegate unavailable, using default execution")
			return nil
		}
		return d
	case DelegateEdgeTPU:
		devices, err := edgetpu.DeviceList()
		if err != nil || len(devices) == 0 {
			log.Warn("No Edge TPU found, using default execution", "error", err)
			return nil
		}
		d := edgetpu.New(devices[0])
		if d == nil {
			log.Warn("Edge TPU delegate unavailable, using default execution")
			return nil
		}
		return d
	default:
		return nil
	}
}

func (e *Engine) build(cfg Config, d delegates.Delegater) error {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
	}

	e.options = tflite.NewInterpreterOptions()
	if cfg.NumThreads > 0 {
		e.options.SetNumThread(cfg.NumThreads)
	}
	e.options.SetErrorReporter(func(msg string, _ interface{}) {
		e.logger.Debug("tflite", "message", msg)
	}, nil)
	if d != nil {
		e.options.AddDelegate(d)
	}

	e.interpreter = tflite.NewInterpreter(e.model, e.options)
	if e.interpreter == nil {
		return fmt.Errorf("%w: cannot create interpreter", inference.ErrModelLoad)
	}
	if status := e.interpreter.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("%w: allocate tensors: %v", inference.ErrModelLoad, status)
	}

	e.delegate = d
	e.delegateUse = DelegateNone
	if d != nil {
		e.delegateUse = cfg.Delegate
	}
	return nil
}

// InputSpec returns the model's declared input
func (e *Engine) InputSpec() preprocess.InputSpec {
	return e.spec
}

// Delegate returns the delegate in use, or "none"
func (e *Engine) Delegate() string {
	return e.delegateUse
}

// Detect runs the model on t and decodes the SSD outputs
func (e *Engine) Detect(t *preprocess.Tensor) ([]inference.Prediction, error) {
	if err := inference.CheckShape(e.spec, t); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	input := e.interpreter.GetInputTensor(0)
	var status tflite.Status
	if t.DataType == preprocess.Float32 {
		status = input.CopyFromBuffer(t.F32)
	} else {
		status = input.CopyFromBuffer(t.U8)
	}
	if status != tflite.OK {
		return nil, fmt.Errorf("copy input: %v", status)
	}

	if status := e.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("invoke: %v", status)
	}

	locations := e.interpreter.GetOutputTensor(0).Float32s()
	classes := e.interpreter.GetOutputTensor(1).Float32s()
	scores := e.interpreter.GetOutputTensor(2).Float32s()
	count := e.interpreter.GetOutputTensor(3).Float32s()

	var n float32 = -1
	if len(count) > 0 {
		n = count[0]
	}
	return e.decoder.Decode(locations, classes, scores, n)
}

// Close releases the interpreter, delegate and model
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.delegate != nil {
		e.delegate.Delete()
		e.delegate = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}

var _ inference.Engine = (*Engine)(nil)
