// Package data provides datasets, batching and dataset splitting for
// training and reconstruction runs.
package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tsawler/go-synth/imaging"
	"github.com/tsawler/go-synth/tensor"
)

// Dataset interface defines methods that all datasets must implement.
// Samples are channel-first tensors; the label is ignored for
// unlabeled runs.
type Dataset interface {
	Len() int
	Get(idx int) (img *tensor.Tensor, label int, err error)
}

// SliceDataset is an in-memory dataset over pre-built tensors.
type SliceDataset struct {
	Images []*tensor.Tensor
	Labels []int
}

// NewSliceDataset wraps tensors (and optional labels) as a dataset.
// Labels may be nil for unlabeled data, otherwise it must match the
// image count.
func NewSliceDataset(images []*tensor.Tensor, labels []int) (*SliceDataset, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("dataset requires at least one image")
	}
	if labels != nil && len(labels) != len(images) {
		return nil, fmt.Errorf("label count %d does not match image count %d", len(labels), len(images))
	}
	return &SliceDataset{Images: images, Labels: labels}, nil
}

func (d *SliceDataset) Len() int {
	return len(d.Images)
}

func (d *SliceDataset) Get(idx int) (*tensor.Tensor, int, error) {
	if idx < 0 || idx >= len(d.Images) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.Images))
	}
	label := 0
	if d.Labels != nil {
		label = d.Labels[idx]
	}
	return d.Images[idx], label, nil
}

// CSVDataset reads samples lazily from image files listed in a CSV
// manifest. The manifest needs a channel_0 (or path) column; a label
// column is optional and must hold integer class indices.
type CSVDataset struct {
	paths     []string
	labels    []int
	imageSize int
	channels  int
}

// NewCSVDataset parses the manifest at path. Images are decoded on
// demand, resized to imageSize and scaled to [-1, 1].
func NewCSVDataset(path string, imageSize, channels int) (*CSVDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("manifest %s has no data rows", path)
	}

	pathCol, labelCol := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "channel_0", "path":
			pathCol = i
		case "label":
			labelCol = i
		}
	}
	if pathCol < 0 {
		return nil, fmt.Errorf("manifest %s is missing a channel_0 or path column", path)
	}

	ds := &CSVDataset{imageSize: imageSize, channels: channels}
	for row, record := range records[1:] {
		if pathCol >= len(record) {
			return nil, fmt.Errorf("manifest row %d is missing the image path", row+2)
		}
		ds.paths = append(ds.paths, strings.TrimSpace(record[pathCol]))
		if labelCol >= 0 {
			if labelCol >= len(record) {
				return nil, fmt.Errorf("manifest row %d is missing the label", row+2)
			}
			label, err := strconv.Atoi(strings.TrimSpace(record[labelCol]))
			if err != nil {
				return nil, fmt.Errorf("manifest row %d has a non-integer label: %w", row+2, err)
			}
			ds.labels = append(ds.labels, label)
		}
	}
	return ds, nil
}

// Labeled reports whether the manifest carried a label column.
func (d *CSVDataset) Labeled() bool {
	return d.labels != nil
}

func (d *CSVDataset) Len() int {
	return len(d.paths)
}

func (d *CSVDataset) Get(idx int) (*tensor.Tensor, int, error) {
	if idx < 0 || idx >= len(d.paths) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.paths))
	}
	img, err := imaging.DecodeImageFile(d.paths[idx], d.imageSize, d.channels)
	if err != nil {
		return nil, 0, err
	}
	label := 0
	if d.labels != nil {
		label = d.labels[idx]
	}
	return img, label, nil
}

// Subset exposes a fixed index selection of another dataset.
type Subset struct {
	parent  Dataset
	indices []int
}

func (s *Subset) Len() int {
	return len(s.indices)
}

func (s *Subset) Get(idx int) (*tensor.Tensor, int, error) {
	if idx < 0 || idx >= len(s.indices) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(s.indices))
	}
	return s.parent.Get(s.indices[idx])
}
