package detector

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostprocess(t *testing.T) {
	labels := []string{"background", "stop", "yield"}
	raw := []rawDetection{
		{class: 1, score: 0.30, x1: 0.1, y1: 0.1, x2: 0.2, y2: 0.2},
		{class: 2, score: 0.95, x1: 0.0, y1: 0.0, x2: 0.5, y2: 0.5},
		{class: 1, score: 0.60, x1: 0.5, y1: 0.5, x2: 1.2, y2: 1.1},
		{class: 9, score: 0.70, x1: 0.25, y1: 0.25, x2: 0.75, y2: 0.75},
	}

	t.Run("filters sorts and caps", func(t *testing.T) {
		got := postprocess(raw, labels, 200, 100, 0.5, 2)

		require.Len(t, got, 2)
		assert.Equal(t, "yield", got[0].Categories[0].Label)
		assert.InDelta(t, 0.95, got[0].Categories[0].Score, 1e-6)
		assert.Equal(t, image.Rect(0, 0, 100, 50), got[0].Box)

		assert.Equal(t, 9, got[1].Categories[0].Index)
		assert.Empty(t, got[1].Categories[0].Label, "class outside label map has no label")
	})

	t.Run("boxes clamp to image", func(t *testing.T) {
		got := postprocess(raw, labels, 200, 100, 0.55, 0)

		require.Len(t, got, 3)
		assert.Equal(t, image.Rect(100, 50, 200, 100), got[2].Box)
	})

	t.Run("non-positive cap is unlimited", func(t *testing.T) {
		assert.Len(t, postprocess(raw, labels, 10, 10, 0, 0), 4)
		assert.Len(t, postprocess(raw, labels, 10, 10, 0, -1), 4)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		got := postprocess(raw, nil, 10, 10, 0.6, 0)
		assert.Len(t, got, 3)
	})

	t.Run("drops boxes outside the image", func(t *testing.T) {
		outside := []rawDetection{
			{class: 1, score: 0.9, x1: 1.1, y1: 1.2, x2: 1.5, y2: 1.6},
			{class: 1, score: 0.8, x1: -0.5, y1: 0.1, x2: -0.1, y2: 0.4},
			{class: 2, score: 0.7, x1: 0.1, y1: 0.1, x2: 0.4, y2: 0.4},
		}
		got := postprocess(outside, labels, 100, 100, 0.5, 1)

		require.Len(t, got, 1, "empty boxes must not take a slot under the cap")
		assert.Equal(t, "yield", got[0].Categories[0].Label)
		assert.Equal(t, image.Rect(10, 10, 40, 40), got[0].Box)
	})

	t.Run("drops NaN scores", func(t *testing.T) {
		nan := float32(math.NaN())
		withNaN := []rawDetection{
			{class: 1, score: nan, x1: 0.1, y1: 0.1, x2: 0.5, y2: 0.5},
			{class: 2, score: 0.6, x1: 0.1, y1: 0.1, x2: 0.5, y2: 0.5},
			{class: 1, score: nan, x1: 0.2, y1: 0.2, x2: 0.6, y2: 0.6},
			{class: 1, score: 0.9, x1: 0.2, y1: 0.2, x2: 0.6, y2: 0.6},
		}
		got := postprocess(withNaN, labels, 10, 10, 0, 0)

		require.Len(t, got, 2)
		assert.InDelta(t, 0.9, got[0].Categories[0].Score, 1e-6)
		assert.InDelta(t, 0.6, got[1].Categories[0].Score, 1e-6)
	})

	t.Run("empty input", func(t *testing.T) {
		got := postprocess(nil, labels, 10, 10, 0.5, 3)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("background\n stop \n\nyield\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"background", "stop", "", "yield"}, labels)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLabelsPath(t *testing.T) {
	assert.Equal(t, filepath.Join("models", "31_5.labels.txt"), labelsPath(filepath.Join("models", "31_5.tflite")))
}

func TestNewDNNEngine_MissingModel(t *testing.T) {
	_, err := NewDNNEngine(EngineOptions{ModelPath: filepath.Join(t.TempDir(), "nope.tflite")}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultEngineFactory_MissingModel(t *testing.T) {
	_, err := DefaultEngineFactory(EngineOptions{ModelPath: filepath.Join(t.TempDir(), "nope.tflite")})
	assert.Error(t, err)
}

func TestDecodePostProcess(t *testing.T) {
	boxes := []float32{
		0.1, 0.2, 0.3, 0.4, // ymin xmin ymax xmax
		0.5, 0.6, 0.7, 0.8,
		0, 0, 0, 0,
	}
	classes := []float32{3, 1, 0}
	scores := []float32{0.9, 0.4, 0.1}

	t.Run("count limits rows", func(t *testing.T) {
		raw, err := decodePostProcess(boxes, classes, scores, []float32{2})
		require.NoError(t, err)
		require.Len(t, raw, 2)

		assert.Equal(t, rawDetection{class: 3, score: 0.9, x1: 0.2, y1: 0.1, x2: 0.4, y2: 0.3}, raw[0])
		assert.Equal(t, 1, raw[1].class)
	})

	t.Run("count out of range is ignored", func(t *testing.T) {
		for _, count := range [][]float32{nil, {-1}, {10}} {
			raw, err := decodePostProcess(boxes, classes, scores, count)
			require.NoError(t, err)
			assert.Len(t, raw, 3)
		}
	})

	t.Run("short tensors bound the rows", func(t *testing.T) {
		raw, err := decodePostProcess(boxes, classes[:1], scores, nil)
		require.NoError(t, err)
		assert.Len(t, raw, 1)
	})

	t.Run("ragged boxes rejected", func(t *testing.T) {
		_, err := decodePostProcess(boxes[:5], classes, scores, nil)
		assert.Error(t, err)
	})
}

func TestApplyNumThreads(t *testing.T) {
	var got []int
	prev := setNumThreads
	setNumThreads = func(n int) { got = append(got, n) }
	t.Cleanup(func() { setNumThreads = prev })

	applyNumThreads(4)
	applyNumThreads(0)
	applyNumThreads(-2)
	applyNumThreads(1)

	assert.Equal(t, []int{4, 1}, got)
}
