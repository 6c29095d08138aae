package data

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-synth/imaging"
	"github.com/tsawler/go-synth/tensor"
)

// Batch represents a batch of stacked images and their labels. Labels
// is index-aligned with the leading batch dimension.
type Batch struct {
	Images *tensor.Tensor
	Labels []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	if b.Images == nil || len(b.Images.Shape) == 0 {
		return 0
	}
	return b.Images.Shape[0]
}

// DataLoader provides batching and shuffling over a dataset. When a
// resize size is set, every sample is resized at fetch time, so a
// progressive-resolution change takes effect on the next batch.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	rng        *rand.Rand
	indices    []int
	position   int
	resizeSize int
	mutex      sync.Mutex
}

// NewDataLoader creates a new DataLoader. The generator is only used
// for shuffling and may be nil when shuffle is false.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataloader requires a non-empty dataset")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires a random generator")
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// DatasetLen returns the number of samples in the underlying dataset.
func (dl *DataLoader) DatasetLen() int {
	return dl.dataset.Len()
}

// SetResizeSize sets the spatial extent samples are resized to at
// fetch time. Zero disables resizing.
func (dl *DataLoader) SetResizeSize(size int) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.resizeSize = size
}

// Reset rewinds the loader for a new epoch, reshuffling if enabled.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext returns true if there are more batches in the current epoch.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Next returns the next batch, or nil at the end of the epoch. The
// final batch may be smaller than the configured batch size.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	labels := make([]int, 0, len(indices))
	var stacked []float32
	var sampleShape []int

	for _, idx := range indices {
		img, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, err
		}
		if dl.resizeSize > 0 {
			img, err = imaging.ResizeSpatial(img, dl.resizeSize)
			if err != nil {
				return nil, err
			}
		}
		if sampleShape == nil {
			sampleShape = img.Shape
			stacked = make([]float32, 0, len(indices)*img.NumElems)
		} else if !img.ShapeEquals(sampleShape) {
			return nil, fmt.Errorf("sample %d shape %v differs from batch shape %v", idx, img.Shape, sampleShape)
		}
		stacked = append(stacked, img.Data...)
		labels = append(labels, label)
	}

	images, err := tensor.NewTensor(append([]int{len(indices)}, sampleShape...), stacked)
	if err != nil {
		return nil, err
	}
	return &Batch{Images: images, Labels: labels}, nil
}
