package dataset

import (
	"image"
	"slices"
)

// Tensor is a dense float32 image in channel-major (C, H, W) layout.
type Tensor struct {
	C, H, W int
	Data    []float32
}

// NewTensor allocates a zeroed C×H×W tensor.
func NewTensor(c, h, w int) Tensor {
	return Tensor{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

func (t Tensor) offset(c, y, x int) int { return (c*t.H+y)*t.W + x }

// At returns the value at channel c, row y, column x.
func (t Tensor) At(c, y, x int) float32 { return t.Data[t.offset(c, y, x)] }

// Set stores v at channel c, row y, column x.
func (t Tensor) Set(c, y, x int, v float32) { t.Data[t.offset(c, y, x)] = v }

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	t.Data = slices.Clone(t.Data)
	return t
}

// Shape returns (C, H, W).
func (t Tensor) Shape() [3]int { return [3]int{t.C, t.H, t.W} }

// FromImage converts img to a 3-channel RGB tensor with values in [0, 1].
func FromImage(img image.Image) Tensor {
	b := img.Bounds()
	t := NewTensor(3, b.Dy(), b.Dx())
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < t.H; y++ {
			row := rgba.Pix[(y)*rgba.Stride:]
			for x := 0; x < t.W; x++ {
				p := row[x*4 : x*4+3]
				t.Set(0, y, x, float32(p[0])/255)
				t.Set(1, y, x, float32(p[1])/255)
				t.Set(2, y, x, float32(p[2])/255)
			}
		}
		return t
	}
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			t.Set(0, y, x, float32(r)/65535)
			t.Set(1, y, x, float32(g)/65535)
			t.Set(2, y, x, float32(bl)/65535)
		}
	}
	return t
}

// ToImage converts a tensor with values in [0, 1] back to RGBA. Values are
// clamped.
func (t Tensor) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			i := img.PixOffset(x, y)
			for c := 0; c < 3 && c < t.C; c++ {
				img.Pix[i+c] = uint8(clamp01(t.At(c, y, x))*255 + 0.5)
			}
			img.Pix[i+3] = 255
		}
	}
	return img
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
