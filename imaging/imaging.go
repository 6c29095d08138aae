// Package imaging handles the image-side plumbing around the synthesis
// core: decoding training files, spatial resizing for progressive
// growing, channel layout conversion and persistence of generated
// samples.
package imaging

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/tsawler/go-synth/tensor"
)

// ToChannelLast converts a batch from channel-first [N, C, spatial...]
// to channel-last [N, spatial..., C], the layout expected by the image
// writers. 2D batches become [N, H, W, C]; 3D become [N, H, W, D, C].
func ToChannelLast(batch *tensor.Tensor) (*tensor.Tensor, error) {
	if len(batch.Shape) < 3 {
		return nil, fmt.Errorf("channel-last conversion requires [N, C, spatial...], got %v", batch.Shape)
	}
	n, c := batch.Shape[0], batch.Shape[1]
	spatial := batch.Shape[2:]
	spatialElems := 1
	for _, s := range spatial {
		spatialElems *= s
	}
	outShape := append(append([]int{n}, spatial...), c)
	data := make([]float32, batch.NumElems)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			srcBase := (i*c + ch) * spatialElems
			for s := 0; s < spatialElems; s++ {
				data[(i*spatialElems+s)*c+ch] = batch.Data[srcBase+s]
			}
		}
	}
	return tensor.NewTensor(outShape, data)
}

// Sample extracts sample i of a channel-last batch as its own tensor.
func Sample(batch *tensor.Tensor, i int) (*tensor.Tensor, error) {
	if i < 0 || i >= batch.Shape[0] {
		return nil, fmt.Errorf("sample index %d out of range [0, %d)", i, batch.Shape[0])
	}
	sampleShape := batch.Shape[1:]
	sampleElems := batch.NumElems / batch.Shape[0]
	data := make([]float32, sampleElems)
	copy(data, batch.Data[i*sampleElems:(i+1)*sampleElems])
	return tensor.NewTensor(append([]int(nil), sampleShape...), data)
}

// volumeSidecar describes a persisted 3D volume.
type volumeSidecar struct {
	Shape    []int  `json:"shape"`
	Modality string `json:"modality"`
	DType    string `json:"dtype"`
}

// SaveSingleImage persists one channel-last generated sample. The path
// carries no extension; the format is chosen here: PNG for 2D samples,
// raw float32 with a JSON sidecar for 3D volumes. Values are expected
// in [0, 1] and clamped on write.
func SaveSingleImage(img *tensor.Tensor, path, modality string, nDimensions int) error {
	switch nDimensions {
	case 2:
		return savePNG(img, path+".png")
	case 3:
		return saveVolume(img, path, modality)
	default:
		return fmt.Errorf("unsupported dimensionality %d", nDimensions)
	}
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func savePNG(img *tensor.Tensor, path string) error {
	if len(img.Shape) != 3 {
		return fmt.Errorf("2D image save requires [H, W, C], got %v", img.Shape)
	}
	h, w, c := img.Shape[0], img.Shape[1], img.Shape[2]
	var out image.Image
	switch c {
	case 1:
		gray := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gray.SetGray(x, y, color.Gray{Y: clampByte(img.Data[(y*w+x)*c])})
			}
		}
		out = gray
	case 3:
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				base := (y*w + x) * c
				rgba.SetRGBA(x, y, color.RGBA{
					R: clampByte(img.Data[base]),
					G: clampByte(img.Data[base+1]),
					B: clampByte(img.Data[base+2]),
					A: 255,
				})
			}
		}
		out = rgba
	default:
		return fmt.Errorf("unsupported channel count %d", c)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, out); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

func saveVolume(img *tensor.Tensor, path, modality string) error {
	if len(img.Shape) != 4 {
		return fmt.Errorf("3D volume save requires [H, W, D, C], got %v", img.Shape)
	}
	raw := make([]byte, 0, img.NumElems*4)
	for _, v := range img.Data {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		bits := math.Float32bits(v)
		raw = append(raw, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	if err := os.WriteFile(path+".bin", raw, 0o644); err != nil {
		return fmt.Errorf("failed to write volume: %w", err)
	}
	sidecar := volumeSidecar{Shape: img.Shape, Modality: modality, DType: "float32"}
	meta, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".json", meta, 0o644); err != nil {
		return fmt.Errorf("failed to write volume sidecar: %w", err)
	}
	return nil
}

// DecodeImageFile loads an image file into a channel-first [C, H, W]
// tensor scaled to [-1, 1], resizing to size x size when size > 0.
// Grayscale output uses a single channel.
func DecodeImageFile(path string, size, channels int) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	if size > 0 {
		bounds := src.Bounds()
		if bounds.Dx() != size || bounds.Dy() != size {
			dst := image.NewRGBA(image.Rect(0, 0, size, size))
			draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
			src = dst
		}
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float32, channels*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			switch channels {
			case 1:
				lum := (float32(r) + float32(g) + float32(b)) / (3 * 65535)
				data[y*w+x] = lum*2 - 1
			case 3:
				data[0*h*w+y*w+x] = float32(r)/65535*2 - 1
				data[1*h*w+y*w+x] = float32(g)/65535*2 - 1
				data[2*h*w+y*w+x] = float32(b)/65535*2 - 1
			default:
				return nil, fmt.Errorf("unsupported channel count %d", channels)
			}
		}
	}
	return tensor.NewTensor([]int{channels, h, w}, data)
}

// ResizeSpatial resizes a channel-first sample [C, spatial...] so every
// spatial extent equals size. 2D samples are interpolated bilinearly;
// 3D volumes use nearest-neighbour. Used by the data pipeline when the
// progressive stage changes resolution.
func ResizeSpatial(t *tensor.Tensor, size int) (*tensor.Tensor, error) {
	switch len(t.Shape) {
	case 3:
		return resizeBilinear2D(t, size)
	case 4:
		return resizeNearest3D(t, size)
	default:
		return nil, fmt.Errorf("resize requires [C, H, W] or [C, H, W, D], got %v", t.Shape)
	}
}

func resizeBilinear2D(t *tensor.Tensor, size int) (*tensor.Tensor, error) {
	c, h, w := t.Shape[0], t.Shape[1], t.Shape[2]
	if h == size && w == size {
		return t, nil
	}
	data := make([]float32, c*size*size)
	scaleY := float64(h) / float64(size)
	scaleX := float64(w) / float64(size)
	for ch := 0; ch < c; ch++ {
		src := t.Data[ch*h*w : (ch+1)*h*w]
		dst := data[ch*size*size : (ch+1)*size*size]
		for y := 0; y < size; y++ {
			sy := (float64(y)+0.5)*scaleY - 0.5
			y0 := int(sy)
			if y0 < 0 {
				y0 = 0
			}
			y1 := y0 + 1
			if y1 >= h {
				y1 = h - 1
			}
			fy := float32(sy - float64(y0))
			if fy < 0 {
				fy = 0
			}
			for x := 0; x < size; x++ {
				sx := (float64(x)+0.5)*scaleX - 0.5
				x0 := int(sx)
				if x0 < 0 {
					x0 = 0
				}
				x1 := x0 + 1
				if x1 >= w {
					x1 = w - 1
				}
				fx := float32(sx - float64(x0))
				if fx < 0 {
					fx = 0
				}
				top := src[y0*w+x0]*(1-fx) + src[y0*w+x1]*fx
				bottom := src[y1*w+x0]*(1-fx) + src[y1*w+x1]*fx
				dst[y*size+x] = top*(1-fy) + bottom*fy
			}
		}
	}
	return tensor.NewTensor([]int{c, size, size}, data)
}

func resizeNearest3D(t *tensor.Tensor, size int) (*tensor.Tensor, error) {
	c, h, w, d := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if h == size && w == size && d == size {
		return t, nil
	}
	data := make([]float32, c*size*size*size)
	for ch := 0; ch < c; ch++ {
		for z := 0; z < size; z++ {
			sz := z * d / size
			for y := 0; y < size; y++ {
				sy := y * h / size
				for x := 0; x < size; x++ {
					sx := x * w / size
					data[((ch*size+y)*size+x)*size+z] = t.Data[((ch*h+sy)*w+sx)*d+sz]
				}
			}
		}
	}
	return tensor.NewTensor([]int{c, size, size, size}, data)
}
