// Package app wires the camera, the object detector and its result sinks together.
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/ayusman/ardetect/internal/capture"
	"github.com/ayusman/ardetect/internal/config"
	"github.com/ayusman/ardetect/internal/detector"
	xlog "github.com/ayusman/ardetect/internal/log"
	"github.com/ayusman/ardetect/internal/store"
)

// ErrInvalidOptions is returned by Reconfigure when options fail validation.
var ErrInvalidOptions = errors.New("invalid detector options")

// Config holds configuration options for the application.
type Config struct {
	Detector detector.Options
	Camera   capture.Camera
	// Store persists settings and run history. Optional.
	Store *store.Store
	// Listeners receive every detector callback after the app has handled it.
	Listeners []detector.Listener
	// HelperOptions are passed to detector.New.
	HelperOptions []detector.HelperOption
}

// Snapshot is the most recent detector outcome.
type Snapshot struct {
	Result    detector.Result `json:"result"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// App runs detection on camera frames and fans results out to its sinks.
type App struct {
	camera   capture.Camera
	helper   *detector.Helper
	store    *store.Store
	sinks    detector.MultiListener
	logger   zerolog.Logger
	mu       sync.RWMutex
	enabled  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	latest   Snapshot
	frames   uint64
	failures uint64
}

// New creates an App and builds its detector. Options persisted in the
// store take precedence over cfg.Detector.
func New(cfg Config) *App {
	a := &App{
		camera:  cfg.Camera,
		store:   cfg.Store,
		sinks:   detector.MultiListener(cfg.Listeners),
		logger:  xlog.WithComponent("app"),
		enabled: true,
	}

	opts := cfg.Detector
	if a.store != nil {
		saved, err := a.store.Settings().LoadOptions()
		switch {
		case err == nil:
			if verr := config.ValidateDetector(saved); verr == nil {
				opts = saved
				a.logger.Info().Str("event", "app.settings_restored").Msg("using saved detector settings")
			} else {
				a.logger.Warn().Err(verr).Str("event", "app.settings_invalid").Msg("ignoring saved detector settings")
			}
		case !errors.Is(err, store.ErrNotFound):
			a.logger.Warn().Err(err).Str("event", "app.settings_load_failed").Msg("failed to load saved settings")
		}
	}

	a.helper = detector.New(opts, a, cfg.HelperOptions...)
	return a
}

// OnError implements detector.Listener.
func (a *App) OnError(err error) {
	a.mu.Lock()
	a.latest.Error = err.Error()
	a.latest.UpdatedAt = time.Now()
	a.failures++
	a.mu.Unlock()

	a.logger.Warn().Err(err).Str("event", "app.detector_error").Msg("detector reported an error")
	a.sinks.OnError(err)
}

// OnResults implements detector.Listener.
func (a *App) OnResults(res detector.Result) {
	a.mu.Lock()
	a.latest = Snapshot{Result: res, UpdatedAt: time.Now()}
	a.frames++
	a.mu.Unlock()

	if a.store != nil {
		run := &store.Run{
			Model:       res.Model.String(),
			Delegate:    res.Backend.String(),
			Detections:  len(res.Detections),
			InferenceMs: float64(res.InferenceTime.Microseconds()) / 1000,
			ImageWidth:  res.ImageWidth,
			ImageHeight: res.ImageHeight,
		}
		if best, ok := topDetection(res.Detections); ok {
			run.TopScore = float64(best.Score)
			run.TopLabel = best.Label
		}
		if err := a.store.Runs().Record(run); err != nil {
			a.logger.Warn().Err(err).Str("event", "app.record_failed").Msg("failed to record run")
		}
	}

	a.logger.Debug().
		Str("event", "app.results").
		Int("detections", len(res.Detections)).
		Dur("inference", res.InferenceTime).
		Int("width", res.ImageWidth).
		Int("height", res.ImageHeight).
		Msg("frame processed")

	a.sinks.OnResults(res)
}

func topDetection(dets []detector.Detection) (detector.Category, bool) {
	var best detector.Category
	found := false
	for _, d := range dets {
		for _, c := range d.Categories {
			if !found || c.Score > best.Score {
				best = c
				found = true
			}
		}
	}
	return best, found
}

// ProcessFrame runs one frame through the detector, turning it clockwise by
// rotation degrees first.
func (a *App) ProcessFrame(frame gocv.Mat, rotation int) error {
	if frame.Empty() {
		return capture.ErrNoFrame
	}
	return a.helper.Detect(frame, rotation)
}

// Reconfigure validates, persists and applies opts. The engine is rebuilt on
// the next frame. When saving fails the running options are left unchanged.
func (a *App) Reconfigure(opts detector.Options) error {
	if err := config.ValidateDetector(opts); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	if a.store != nil {
		if err := a.store.Settings().SaveOptions(opts); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}

	a.helper.Reconfigure(opts)

	a.logger.Info().
		Str("event", "app.reconfigured").
		Str("delegate", opts.Delegate.String()).
		Str("model", opts.Model.String()).
		Float32("threshold", opts.Threshold).
		Int("threads", opts.NumThreads).
		Int("max_results", opts.MaxResults).
		Msg("detector reconfigured")
	return nil
}

// Options returns the detector configuration in effect.
func (a *App) Options() detector.Options {
	return a.helper.Options()
}

// Latest returns the most recent detector outcome.
func (a *App) Latest() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Counters returns how many frames produced results and how many errors
// were reported.
func (a *App) Counters() (frames, failures uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames, a.failures
}

// SetEnabled pauses or resumes detection without closing the camera.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Start opens the camera and begins the detection loop.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}
	if a.camera == nil {
		return errors.New("no camera configured")
	}

	if err := a.camera.Open(); err != nil {
		return err
	}

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(a.stopCh, a.doneCh)

	a.logger.Info().Str("event", "app.started").Int("fps", a.camera.FPS()).Msg("detection pipeline started")
	return nil
}

// Stop halts the detection loop and closes the camera. The detector stays
// usable until Close.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh

	if err := a.camera.Close(); err != nil {
		a.logger.Warn().Err(err).Str("event", "app.camera_close_failed").Msg("error closing camera")
	}
	a.logger.Info().Str("event", "app.stopped").Msg("detection pipeline stopped")
}

// Close stops the loop and releases the detector.
func (a *App) Close() error {
	a.Stop()
	return a.helper.Close()
}

// Helper returns the underlying detector helper.
func (a *App) Helper() *detector.Helper {
	return a.helper
}
