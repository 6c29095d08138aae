package imaging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-synth/tensor"
)

func mustTensor(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.NewTensor(shape, data)
	require.NoError(t, err)
	return out
}

func TestToChannelLast2D(t *testing.T) {
	// [1, 2, 2, 2]: two channels of a 2x2 image.
	batch := mustTensor(t, []int{1, 2, 2, 2}, []float32{
		1, 2, 3, 4, // channel 0
		5, 6, 7, 8, // channel 1
	})
	out, err := ToChannelLast(batch)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 2}, out.Shape)
	// Pixel (0,0) carries both channels adjacently.
	assert.Equal(t, []float32{1, 5, 2, 6, 3, 7, 4, 8}, out.Data)
}

func TestToChannelLast3D(t *testing.T) {
	batch := mustTensor(t, []int{2, 1, 2, 2, 2}, make([]float32, 16))
	out, err := ToChannelLast(batch)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2, 2, 1}, out.Shape)
}

func TestSampleExtraction(t *testing.T) {
	batch := mustTensor(t, []int{2, 2, 2, 1}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	s, err := Sample(batch, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, s.Shape)
	assert.Equal(t, []float32{5, 6, 7, 8}, s.Data)

	_, err = Sample(batch, 2)
	assert.Error(t, err)
}

func TestSaveSingleImage2DWritesPNG(t *testing.T) {
	dir := t.TempDir()
	img := mustTensor(t, []int{2, 2, 1}, []float32{0, 0.5, 1, 2})
	path := filepath.Join(dir, "sample_0")
	require.NoError(t, SaveSingleImage(img, path, "rad", 2))

	_, err := os.Stat(path + ".png")
	assert.NoError(t, err)
}

func TestSaveSingleImage3DWritesVolumeAndSidecar(t *testing.T) {
	dir := t.TempDir()
	img := mustTensor(t, []int{2, 2, 2, 1}, make([]float32, 8))
	path := filepath.Join(dir, "sample_0")
	require.NoError(t, SaveSingleImage(img, path, "rad", 3))

	raw, err := os.ReadFile(path + ".bin")
	require.NoError(t, err)
	assert.Len(t, raw, 8*4)

	meta, err := os.ReadFile(path + ".json")
	require.NoError(t, err)
	var sidecar struct {
		Shape    []int  `json:"shape"`
		Modality string `json:"modality"`
	}
	require.NoError(t, json.Unmarshal(meta, &sidecar))
	assert.Equal(t, []int{2, 2, 2, 1}, sidecar.Shape)
	assert.Equal(t, "rad", sidecar.Modality)
}

func TestResizeSpatial2DUpscale(t *testing.T) {
	img := mustTensor(t, []int{1, 2, 2}, []float32{1, 1, 3, 3})
	out, err := ResizeSpatial(img, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 4}, out.Shape)
	// Rows stay constant across x; corner values preserved.
	assert.InDelta(t, 1.0, float64(out.Data[0]), 1e-5)
	assert.InDelta(t, 3.0, float64(out.Data[15]), 1e-5)
}

func TestResizeSpatialNoopWhenAlreadySized(t *testing.T) {
	img := mustTensor(t, []int{1, 4, 4}, make([]float32, 16))
	out, err := ResizeSpatial(img, 4)
	require.NoError(t, err)
	assert.Same(t, img, out)
}

func TestResizeSpatial3D(t *testing.T) {
	img := mustTensor(t, []int{1, 2, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	out, err := ResizeSpatial(img, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 4, 4}, out.Shape)
}
