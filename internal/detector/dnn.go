package detector

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gocv.io/x/gocv"
)

// DefaultInputSize is the square input the DNN engine resizes frames to.
const DefaultInputSize = 300

// ssdRowWidth is the number of values per row of an SSD detection output:
// image id, class id, score, x1, y1, x2, y2.
const ssdRowWidth = 7

// postProcessOutputs is the number of tensors a TFLite_Detection_PostProcess
// head emits: boxes, classes, scores and count.
const postProcessOutputs = 4

// setNumThreads is swapped in tests.
var setNumThreads = gocv.SetNumThreads

// DNNEngine runs a detection model through OpenCV's DNN module. It reads
// either a single SSD blob or the four tensors of a TFLite post-process head.
type DNNEngine struct {
	net       gocv.Net
	opts      EngineOptions
	labels    []string
	inputSize int
	outputs   []string
}

// NewDNNEngine loads the model at opts.ModelPath and selects the backend.
func NewDNNEngine(opts EngineOptions, labels []string) (*DNNEngine, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}

	net := gocv.ReadNet(opts.ModelPath, "")
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("read model %s: empty network", opts.ModelPath)
	}

	backend, target := netBackend(opts.Backend)
	net.SetPreferableBackend(backend)
	net.SetPreferableTarget(target)
	applyNumThreads(opts.NumThreads)

	return &DNNEngine{
		net:       net,
		opts:      opts,
		labels:    labels,
		inputSize: DefaultInputSize,
		outputs:   outputNames(&net),
	}, nil
}

// applyNumThreads sizes OpenCV's thread pool. The pool is process-wide, so
// the most recently built engine wins. Non-positive values keep the default.
func applyNumThreads(n int) {
	if n > 0 {
		setNumThreads(n)
	}
}

func outputNames(net *gocv.Net) []string {
	names := net.GetLayerNames()
	var out []string
	for _, id := range net.GetUnconnectedOutLayers() {
		// Layer ids are 1-based.
		if id >= 1 && id <= len(names) {
			out = append(out, names[id-1])
		}
	}
	return out
}

// DefaultEngineFactory builds a DNNEngine, reading labels from a
// "<model>.labels.txt" file next to the model when one exists.
func DefaultEngineFactory(opts EngineOptions) (Engine, error) {
	labels, err := LoadLabels(labelsPath(opts.ModelPath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	return NewDNNEngine(opts, labels)
}

func labelsPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".labels.txt"
}

func netBackend(b Backend) (gocv.NetBackendType, gocv.NetTargetType) {
	switch b {
	case BackendGPU:
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case BackendAccelerator:
		return gocv.NetBackendOpenVINO, gocv.NetTargetVPU
	}
	return gocv.NetBackendOpenCV, gocv.NetTargetCPU
}

// Detect implements Engine.
func (e *DNNEngine) Detect(img gocv.Mat) ([]Detection, error) {
	if img.Empty() {
		return nil, errors.New("detect: empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(e.inputSize, e.inputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")

	var (
		raw []rawDetection
		err error
	)
	if len(e.outputs) >= postProcessOutputs {
		raw, err = e.forwardPostProcess()
	} else {
		raw, err = e.forwardSSD()
	}
	if err != nil {
		return nil, err
	}

	return postprocess(raw, e.labels, img.Cols(), img.Rows(), e.opts.ScoreThreshold, e.opts.MaxResults), nil
}

func (e *DNNEngine) forwardSSD() ([]rawDetection, error) {
	out := e.net.Forward("")
	defer out.Close()

	rows := gocv.GetBlobChannel(out, 0, 0)
	defer rows.Close()

	if rows.Cols() < ssdRowWidth {
		return nil, fmt.Errorf("detect: unexpected output shape %v", out.Size())
	}

	raw := make([]rawDetection, 0, rows.Rows())
	for r := 0; r < rows.Rows(); r++ {
		raw = append(raw, rawDetection{
			class: int(rows.GetFloatAt(r, 1)),
			score: rows.GetFloatAt(r, 2),
			x1:    rows.GetFloatAt(r, 3),
			y1:    rows.GetFloatAt(r, 4),
			x2:    rows.GetFloatAt(r, 5),
			y2:    rows.GetFloatAt(r, 6),
		})
	}
	return raw, nil
}

// forwardPostProcess reads the boxes, classes, scores and count tensors in
// the order the network declares its outputs.
func (e *DNNEngine) forwardPostProcess() ([]rawDetection, error) {
	blobs := e.net.ForwardLayers(e.outputs[:postProcessOutputs])
	defer func() {
		for i := range blobs {
			blobs[i].Close()
		}
	}()
	if len(blobs) < postProcessOutputs {
		return nil, fmt.Errorf("detect: expected %d outputs, got %d", postProcessOutputs, len(blobs))
	}

	tensors := make([][]float32, postProcessOutputs)
	for i := 0; i < postProcessOutputs; i++ {
		data, err := blobs[i].DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("detect: read output %s: %w", e.outputs[i], err)
		}
		tensors[i] = data
	}
	return decodePostProcess(tensors[0], tensors[1], tensors[2], tensors[3])
}

// decodePostProcess turns TFLite post-process tensors into raw detections.
// Boxes are ymin, xmin, ymax, xmax in normalised coordinates.
func decodePostProcess(boxes, classes, scores, count []float32) ([]rawDetection, error) {
	if len(boxes)%4 != 0 {
		return nil, fmt.Errorf("detect: box tensor length %d is not a multiple of 4", len(boxes))
	}

	n := min(len(boxes)/4, len(classes), len(scores))
	if len(count) > 0 {
		if c := int(count[0]); c >= 0 && c < n {
			n = c
		}
	}

	raw := make([]rawDetection, 0, n)
	for i := 0; i < n; i++ {
		raw = append(raw, rawDetection{
			class: int(classes[i]),
			score: scores[i],
			y1:    boxes[4*i],
			x1:    boxes[4*i+1],
			y2:    boxes[4*i+2],
			x2:    boxes[4*i+3],
		})
	}
	return raw, nil
}

// Close implements Engine.
func (e *DNNEngine) Close() error {
	return e.net.Close()
}

// rawDetection is one output row in normalised coordinates.
type rawDetection struct {
	class          int
	score          float32
	x1, y1, x2, y2 float32
}

// postprocess filters by threshold, scales boxes to width x height pixels,
// sorts by score and applies the result cap. NaN scores and boxes that fall
// entirely outside the image are dropped.
func postprocess(raw []rawDetection, labels []string, width, height int, threshold float32, maxResults int) []Detection {
	type candidate struct {
		raw rawDetection
		box image.Rectangle
	}

	bounds := image.Rect(0, 0, width, height)
	kept := make([]candidate, 0, len(raw))
	for _, r := range raw {
		if math.IsNaN(float64(r.score)) || r.score < threshold {
			continue
		}
		box := image.Rect(
			int(r.x1*float32(width)),
			int(r.y1*float32(height)),
			int(r.x2*float32(width)),
			int(r.y2*float32(height)),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}
		kept = append(kept, candidate{raw: r, box: box})
	}

	slices.SortStableFunc(kept, func(a, b candidate) int {
		switch {
		case a.raw.score > b.raw.score:
			return -1
		case a.raw.score < b.raw.score:
			return 1
		}
		return 0
	})

	if maxResults > 0 && len(kept) > maxResults {
		kept = kept[:maxResults]
	}

	out := make([]Detection, 0, len(kept))
	for _, c := range kept {
		label := ""
		if c.raw.class >= 0 && c.raw.class < len(labels) {
			label = labels[c.raw.class]
		}

		out = append(out, Detection{
			Box:        c.box,
			Categories: []Category{{Label: label, Index: c.raw.class, Score: c.raw.score}},
		})
	}
	return out
}

// LoadLabels reads a label map with one label per line. Blank lines keep
// their index.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}
