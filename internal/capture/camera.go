// Package capture provides frame sources for the detector using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 5
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrNoFrame is returned when the source produced no usable frame.
	ErrNoFrame = errors.New("no frame available")
)

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller closes it.
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
	// Rotation is the clockwise turn in degrees that makes frames upright.
	Rotation() int
}

// Source describes what a Camera opens.
type Source struct {
	// Device is a numeric device index or a file path / stream URL.
	Device   string
	Width    int
	Height   int
	FPS      int
	Rotation int
}

// DeviceSource returns a Source for the numbered capture device.
func DeviceSource(id int) Source {
	return Source{Device: strconv.Itoa(id)}
}

type videoCamera struct {
	src      Source
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
	fps      int
	rotation int
}

// NewCamera creates a Camera backed by gocv.VideoCapture.
// The default FPS is 5 and frames are requested at 640x480.
func NewCamera(src Source) Camera {
	fps := src.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	if src.Width <= 0 {
		src.Width = DefaultWidth
	}
	if src.Height <= 0 {
		src.Height = DefaultHeight
	}
	return &videoCamera{
		src:      src,
		fps:      fps,
		rotation: src.Rotation,
	}
}

// Open opens the source for capturing frames.
func (c *videoCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var device interface{} = c.src.Device
	if id, err := strconv.Atoi(c.src.Device); err == nil {
		device = id
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("open capture %q: %w", c.src.Device, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.src.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.src.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *videoCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame.
func (c *videoCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrNoFrame
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *videoCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *videoCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// IsOpen returns true if the camera is currently open.
func (c *videoCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Rotation returns the configured sensor rotation.
func (c *videoCamera) Rotation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotation
}
