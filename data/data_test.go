package data

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-synth/tensor"
)

func sliceDataset(t *testing.T, n int) *SliceDataset {
	t.Helper()
	images := make([]*tensor.Tensor, n)
	labels := make([]int, n)
	for i := range images {
		img, err := tensor.Full([]int{1, 2, 2}, float32(i))
		require.NoError(t, err)
		images[i] = img
		labels[i] = i % 2
	}
	ds, err := NewSliceDataset(images, labels)
	require.NoError(t, err)
	return ds
}

func TestSliceDatasetValidation(t *testing.T) {
	_, err := NewSliceDataset(nil, nil)
	assert.Error(t, err)

	img, err := tensor.Zeros([]int{1, 2, 2})
	require.NoError(t, err)
	_, err = NewSliceDataset([]*tensor.Tensor{img}, []int{0, 1})
	assert.Error(t, err, "label count mismatch")
}

func TestDataLoaderBatching(t *testing.T) {
	dl, err := NewDataLoader(sliceDataset(t, 10), 4, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, dl.Len())

	sizes := []int{}
	for dl.HasNext() {
		batch, err := dl.Next()
		require.NoError(t, err)
		sizes = append(sizes, batch.Size())
	}
	assert.Equal(t, []int{4, 4, 2}, sizes, "remainder forms a final short batch")

	batch, err := dl.Next()
	require.NoError(t, err)
	assert.Nil(t, batch, "exhausted epoch yields nil")
}

func TestDataLoaderSequentialOrderWithoutShuffle(t *testing.T) {
	dl, err := NewDataLoader(sliceDataset(t, 4), 2, false, nil)
	require.NoError(t, err)

	batch, err := dl.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 2, 2}, batch.Images.Shape)
	assert.Equal(t, float32(0), batch.Images.Data[0])
	assert.Equal(t, []int{0, 1}, batch.Labels)
}

func TestDataLoaderShuffleIsDeterministicPerSeed(t *testing.T) {
	order := func() []float32 {
		dl, err := NewDataLoader(sliceDataset(t, 8), 1, true, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		dl.Reset()
		var got []float32
		for dl.HasNext() {
			batch, err := dl.Next()
			require.NoError(t, err)
			got = append(got, batch.Images.Data[0])
		}
		return got
	}
	assert.Equal(t, order(), order())
}

func TestDataLoaderResizeAppliesAtFetchTime(t *testing.T) {
	dl, err := NewDataLoader(sliceDataset(t, 2), 1, false, nil)
	require.NoError(t, err)

	batch, err := dl.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, batch.Images.Shape)

	dl.SetResizeSize(4)
	batch, err = dl.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4}, batch.Images.Shape, "resize takes effect on the next batch")
}

func TestSplitCountsWinOverRatios(t *testing.T) {
	ds := sliceDataset(t, 10)
	train, val, test, err := Split(ds, SplitSpec{Count: 3, Ratio: 0.9}, SplitSpec{Ratio: 0.2}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 3, val.Len())
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, 5, train.Len())
}

func TestSplitEmptySpecsReturnWholeDataset(t *testing.T) {
	ds := sliceDataset(t, 5)
	train, val, test, err := Split(ds, SplitSpec{}, SplitSpec{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, train.Len())
	assert.Nil(t, val)
	assert.Nil(t, test)
}

func TestSplitRejectsExhaustingTrainingData(t *testing.T) {
	ds := sliceDataset(t, 4)
	_, _, _, err := Split(ds, SplitSpec{Count: 2}, SplitSpec{Count: 2}, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestCSVDatasetParsesManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "train.csv")
	content := "SubjectID,Channel_0,Label\n1,/tmp/a.png,0\n2,/tmp/b.png,1\n"
	require.NoError(t, os.WriteFile(manifest, []byte(content), 0o644))

	ds, err := NewCSVDataset(manifest, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.True(t, ds.Labeled())
}

func TestCSVDatasetRejectsMissingPathColumn(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(manifest, []byte("id,value\n1,2\n"), 0o644))

	_, err := NewCSVDataset(manifest, 8, 1)
	assert.Error(t, err)
}

func TestCSVDatasetRejectsNonIntegerLabel(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(manifest, []byte("path,label\n/tmp/a.png,healthy\n"), 0o644))

	_, err := NewCSVDataset(manifest, 8, 1)
	assert.Error(t, err)
}
