package detector

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	xlog "github.com/ayusman/ardetect/internal/log"
)

// Helper owns a detector Engine built from Options and rebuilds it whenever
// the configuration changes. It is safe for concurrent use.
type Helper struct {
	mu       sync.Mutex
	opts     Options
	listener Listener
	factory  EngineFactory
	gpuProbe func() bool
	logger   zerolog.Logger
	engine   Engine
	backend  Backend
	now      func() time.Time
}

// HelperOption customises a Helper.
type HelperOption func(*Helper)

// WithEngineFactory overrides how engines are built.
func WithEngineFactory(f EngineFactory) HelperOption {
	return func(h *Helper) { h.factory = f }
}

// WithGPUProbe overrides the device check used for the GPU delegate.
func WithGPUProbe(probe func() bool) HelperOption {
	return func(h *Helper) { h.gpuProbe = probe }
}

// WithLogger sets the logger used for setup failures.
func WithLogger(l zerolog.Logger) HelperOption {
	return func(h *Helper) { h.logger = l }
}

// New creates a Helper and builds its engine right away. Setup failures are
// reported to listener, which may be nil.
func New(opts Options, listener Listener, options ...HelperOption) *Helper {
	h := &Helper{
		opts:     opts,
		listener: listener,
		factory:  DefaultEngineFactory,
		gpuProbe: CUDAAvailable,
		logger:   xlog.WithComponent("detector"),
		now:      time.Now,
	}
	for _, o := range options {
		o(h)
	}

	h.Setup()
	return h
}

// Setup builds a new engine from the current options, replacing any
// existing one.
func (h *Helper) Setup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setupLocked()
}

func (h *Helper) setupLocked() {
	h.closeEngineLocked()

	eo := EngineOptions{
		ScoreThreshold: h.opts.Threshold,
		MaxResults:     h.opts.MaxResults,
		NumThreads:     h.opts.NumThreads,
		Backend:        BackendCPU,
		ModelPath:      filepath.Join(h.opts.ModelDir, h.opts.Model.File()),
	}

	switch h.opts.Delegate {
	case DelegateCPU:
	case DelegateGPU:
		if h.gpuProbe != nil && h.gpuProbe() {
			eo.Backend = BackendGPU
		} else {
			h.logger.Warn().
				Str("event", "detector.gpu_unsupported").
				Msg("GPU delegate requested but not supported, using CPU")
			h.emitError(ErrGPUUnsupported)
		}
	case DelegateNNAPI:
		eo.Backend = BackendAccelerator
	}

	engine, err := h.factory(eo)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "detector.setup_failed").
			Str("model", eo.ModelPath).
			Str("backend", eo.Backend.String()).
			Msg("failed to load model")
		h.emitError(ErrInitFailed)
		return
	}

	h.engine = engine
	h.backend = eo.Backend
	h.logger.Debug().
		Str("event", "detector.setup").
		Str("model", eo.ModelPath).
		Str("backend", eo.Backend.String()).
		Int("threads", eo.NumThreads).
		Int("max_results", eo.MaxResults).
		Float32("threshold", eo.ScoreThreshold).
		Msg("object detector ready")
}

// Clear drops the current engine. The next Detect rebuilds it.
func (h *Helper) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeEngineLocked()
}

// Ready reports whether an engine is currently built.
func (h *Helper) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine != nil
}

// Detect rotates frame by rotation degrees clockwise, runs the engine and
// delivers the result to the listener. The frame is not modified.
func (h *Helper) Detect(frame gocv.Mat, rotation int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine == nil {
		h.setupLocked()
		if h.engine == nil {
			return ErrNotReady
		}
	}

	start := h.now()

	rotated := Rotate(frame, rotation)
	defer rotated.Close()

	detections, err := h.engine.Detect(rotated)
	elapsed := h.now().Sub(start)
	if err != nil {
		h.emitError(err)
		return err
	}

	if h.listener != nil {
		h.listener.OnResults(Result{
			Detections:    detections,
			InferenceTime: elapsed,
			ImageHeight:   rotated.Rows(),
			ImageWidth:    rotated.Cols(),
			Model:         h.opts.Model,
			Backend:       h.backend,
		})
	}
	return nil
}

// Options returns a copy of the current configuration.
func (h *Helper) Options() Options {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts
}

// Reconfigure replaces the whole configuration and clears the engine.
func (h *Helper) Reconfigure(opts Options) {
	h.update(func(o *Options) { *o = opts })
}

// SetThreshold sets the minimum detection score.
func (h *Helper) SetThreshold(v float32) { h.update(func(o *Options) { o.Threshold = v }) }

// SetNumThreads sets the engine thread count.
func (h *Helper) SetNumThreads(n int) { h.update(func(o *Options) { o.NumThreads = n }) }

// SetMaxResults sets the detection cap.
func (h *Helper) SetMaxResults(n int) { h.update(func(o *Options) { o.MaxResults = n }) }

// SetDelegate sets the execution backend.
func (h *Helper) SetDelegate(d Delegate) { h.update(func(o *Options) { o.Delegate = d }) }

// SetModel sets the model.
func (h *Helper) SetModel(m Model) { h.update(func(o *Options) { o.Model = m }) }

func (h *Helper) update(fn func(*Options)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.opts)
	h.closeEngineLocked()
}

// Close releases the engine.
func (h *Helper) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine == nil {
		return nil
	}
	err := h.engine.Close()
	h.engine = nil
	return err
}

func (h *Helper) closeEngineLocked() {
	if h.engine == nil {
		return
	}
	if err := h.engine.Close(); err != nil {
		h.logger.Warn().Err(err).Str("event", "detector.close_failed").Msg("failed to release engine")
	}
	h.engine = nil
}

func (h *Helper) emitError(err error) {
	if h.listener != nil {
		h.listener.OnError(err)
	}
}

// IsSetupError reports whether err came from building the engine rather
// than from running it.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrInitFailed) || errors.Is(err, ErrGPUUnsupported) || errors.Is(err, ErrNotReady)
}
