// Package metrics exposes Prometheus instrumentation for the detector.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ayusman/ardetect/internal/detector"
)

// Recorder is a detector.Listener that records inference timing,
// detection counts and errors.
type Recorder struct {
	inference  *prometheus.HistogramVec
	detections *prometheus.CounterVec
	errors     *prometheus.CounterVec
	lastSize   *prometheus.GaugeVec
}

// NewRecorder creates a Recorder registered on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ardetect",
			Name:      "inference_duration_seconds",
			Help:      "Time spent rotating and running inference on one frame.",
			Buckets:   []float64{.005, .01, .02, .035, .05, .075, .1, .15, .25, .5, 1},
		}, []string{"model", "backend"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ardetect",
			Name:      "detections_total",
			Help:      "Objects reported across all frames.",
		}, []string{"model", "backend"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ardetect",
			Name:      "errors_total",
			Help:      "Errors reported by the detector.",
		}, []string{"kind"}),
		lastSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ardetect",
			Name:      "input_pixels",
			Help:      "Size of the last rotated input frame.",
		}, []string{"dimension"}),
	}

	for _, c := range []prometheus.Collector{r.inference, r.detections, r.errors, r.lastSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// OnError implements detector.Listener.
func (r *Recorder) OnError(err error) {
	r.errors.WithLabelValues(errorKind(err)).Inc()
}

// OnResults implements detector.Listener.
func (r *Recorder) OnResults(res detector.Result) {
	model, backend := res.Model.String(), res.Backend.String()

	r.inference.WithLabelValues(model, backend).Observe(res.InferenceTime.Seconds())
	r.detections.WithLabelValues(model, backend).Add(float64(len(res.Detections)))
	r.lastSize.WithLabelValues("width").Set(float64(res.ImageWidth))
	r.lastSize.WithLabelValues("height").Set(float64(res.ImageHeight))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, detector.ErrGPUUnsupported):
		return "gpu_unsupported"
	case errors.Is(err, detector.ErrInitFailed):
		return "init_failed"
	case errors.Is(err, detector.ErrNotReady):
		return "not_ready"
	}
	return "inference"
}
