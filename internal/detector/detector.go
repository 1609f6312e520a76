// Package detector configures and drives an on-device object detector.
//
// The numerical work is done by an Engine supplied by the underlying
// inference library. This package picks the model file and execution
// backend, builds the engine, rotates incoming frames and forwards timing
// and results to a Listener.
package detector

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// Errors reported to the Listener and returned by Helper methods.
var (
	ErrGPUUnsupported = errors.New("GPU is not supported on this device")
	ErrInitFailed     = errors.New("object detector failed to initialize. See error logs for details")
	ErrNotReady       = errors.New("object detector is not initialized")
)

// Delegate selects the execution backend requested by the caller.
type Delegate int

const (
	DelegateCPU Delegate = iota
	DelegateGPU
	DelegateNNAPI
)

func (d Delegate) String() string {
	switch d {
	case DelegateCPU:
		return "cpu"
	case DelegateGPU:
		return "gpu"
	case DelegateNNAPI:
		return "nnapi"
	}
	return fmt.Sprintf("delegate(%d)", int(d))
}

// Valid reports whether d is one of the known delegates.
func (d Delegate) Valid() bool {
	return d >= DelegateCPU && d <= DelegateNNAPI
}

// ParseDelegate parses "cpu", "gpu" or "nnapi" (case-insensitive).
func ParseDelegate(s string) (Delegate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return DelegateCPU, nil
	case "gpu":
		return DelegateGPU, nil
	case "nnapi", "npu":
		return DelegateNNAPI, nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && Delegate(n).Valid() {
		return Delegate(n), nil
	}
	return 0, fmt.Errorf("unknown delegate %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Delegate) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("unknown delegate %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Delegate) UnmarshalText(text []byte) error {
	v, err := ParseDelegate(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Model selects which bundled model file to load.
type Model int

const (
	ModelSign1 Model = iota
	ModelSign2
	ModelSign3
	ModelSign4
)

// DefaultModelFile is used for any model value without its own file.
const DefaultModelFile = "mobilenetv1.tflite"

var modelFiles = map[Model]string{
	ModelSign1: DefaultModelFile,
	ModelSign2: "pre_last.tflite",
	ModelSign3: "detect_last.tflite",
	ModelSign4: "31_5.tflite",
}

// File returns the model's file name. Unknown models map to DefaultModelFile.
func (m Model) File() string {
	if name, ok := modelFiles[m]; ok {
		return name
	}
	return DefaultModelFile
}

func (m Model) String() string {
	if m.Valid() {
		return fmt.Sprintf("sign%d", int(m)+1)
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// Valid reports whether m is one of the known models.
func (m Model) Valid() bool {
	_, ok := modelFiles[m]
	return ok
}

// ParseModel parses "sign1".."sign4" or a bare index "0".."3".
func ParseModel(s string) (Model, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m := ModelSign1; m <= ModelSign4; m++ {
		if s == m.String() || s == fmt.Sprint(int(m)) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown model %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown model %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Model) UnmarshalText(text []byte) error {
	v, err := ParseModel(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Options holds the detector configuration.
type Options struct {
	// Threshold is the minimum score a detection needs to be reported.
	Threshold float32 `json:"threshold" yaml:"threshold"`
	// NumThreads is the number of threads the engine may use.
	NumThreads int `json:"num_threads" yaml:"num_threads"`
	// MaxResults caps the detections per frame. Zero or less is unlimited.
	MaxResults int      `json:"max_results" yaml:"max_results"`
	Delegate   Delegate `json:"delegate" yaml:"delegate"`
	Model      Model    `json:"model" yaml:"model"`
	// ModelDir is the directory model files are resolved against.
	ModelDir string `json:"model_dir" yaml:"model_dir"`
}

// DefaultOptions returns Options with the stock values.
func DefaultOptions() Options {
	return Options{
		Threshold:  0.5,
		NumThreads: 2,
		MaxResults: 3,
		Delegate:   DelegateCPU,
		Model:      ModelSign1,
		ModelDir:   "models",
	}
}

// Category is a single labelled score attached to a detection.
type Category struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Detection is one detected object. Box is in pixels of the rotated frame.
type Detection struct {
	Box        image.Rectangle `json:"box"`
	Categories []Category      `json:"categories"`
}

// TopScore returns the highest category score, or 0 without categories.
func (d Detection) TopScore() float32 {
	var best float32
	for _, c := range d.Categories {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}

// Result is delivered to the Listener after every successful detection.
type Result struct {
	Detections    []Detection   `json:"detections"`
	InferenceTime time.Duration `json:"inference_time"`
	ImageHeight   int           `json:"image_height"`
	ImageWidth    int           `json:"image_width"`
	// Model and Backend describe the engine that produced the result.
	Model   Model   `json:"model"`
	Backend Backend `json:"backend"`
}

// Listener receives errors and results from a Helper. Callbacks run on the
// caller's goroutine with the Helper locked, so they must not call back into
// the Helper.
type Listener interface {
	OnError(err error)
	OnResults(res Result)
}

// Engine is a detector instance owned by the inference library.
type Engine interface {
	// Detect runs inference on img, which is already rotated upright.
	Detect(img gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the engine.
	Close() error
}

// Backend is the execution backend actually handed to the library.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
	BackendAccelerator
)

func (b Backend) String() string {
	switch b {
	case BackendGPU:
		return "gpu"
	case BackendAccelerator:
		return "accelerator"
	}
	return "cpu"
}

// MarshalText implements encoding.TextMarshaler.
func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// EngineOptions is the library-facing translation of Options.
type EngineOptions struct {
	ScoreThreshold float32
	MaxResults     int
	NumThreads     int
	Backend        Backend
	ModelPath      string
}

// EngineFactory builds an Engine from EngineOptions.
type EngineFactory func(opts EngineOptions) (Engine, error)
