package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockEngine is a test implementation of the Engine interface.
// It allows tests to control the detection results.
type MockEngine struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	calls      int
	lastSize   [2]int
	closed     bool
}

// NewMockEngine creates a new MockEngine instance.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// SetDetections sets the detections returned by Detect.
func (m *MockEngine) SetDetections(d []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = d
}

// SetError sets the error returned by Detect.
func (m *MockEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured detections or error and records the
// size of the image it was given.
func (m *MockEngine) Detect(img gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastSize = [2]int{img.Cols(), img.Rows()}
	if m.err != nil {
		return nil, m.err
	}
	return m.detections, nil
}

// Calls returns how many times Detect ran.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastSize returns the width and height of the last image passed to Detect.
func (m *MockEngine) LastSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSize[0], m.lastSize[1]
}

// Closed reports whether Close was called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the engine closed.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
