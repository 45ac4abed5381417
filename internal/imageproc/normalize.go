// Package imageproc turns uploaded image bytes into model input tensors.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/visionai-api/internal/model"
)

// ErrUnprocessable is returned when the bytes cannot be decoded as an image.
var ErrUnprocessable = errors.New("could not process the provided image")

// maxPixels bounds decoded image area so a tiny header cannot force a huge
// allocation.
const maxPixels = 50_000_000

// Normalizer decodes, converts to RGB, resizes to a fixed square and scales
// pixel values into [0,1].
type Normalizer struct {
	Size   int
	Layout string
}

// NewNormalizer configures a normalizer for the given model input.
func NewNormalizer(meta model.Metadata) *Normalizer {
	size := meta.ImageSize
	if size <= 0 {
		size = model.DefaultImageSize
	}
	layout := meta.Layout
	if layout == "" {
		layout = model.LayoutNHWC
	}
	return &Normalizer{Size: size, Layout: layout}
}

// Normalize returns a single-batch tensor of shape [1,S,S,3] (NHWC) or
// [1,3,S,S] (NCHW).
func (n *Normalizer) Normalize(data []byte) (model.Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return model.Tensor{}, fmt.Errorf("%w: unsupported dimensions %dx%d", ErrUnprocessable, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	return n.FromImage(img), nil
}

// FromImage normalizes an already decoded image.
func (n *Normalizer) FromImage(img image.Image) model.Tensor {
	size := n.Size
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	bounds := resized.Bounds()

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// Non-premultiplied so that dropping alpha keeps the stored colour.
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r := float32(c.R) / 255.0
			g := float32(c.G) / 255.0
			b := float32(c.B) / 255.0

			pixel := y*size + x
			if n.Layout == model.LayoutNCHW {
				data[pixel] = r
				data[plane+pixel] = g
				data[2*plane+pixel] = b
			} else {
				data[3*pixel] = r
				data[3*pixel+1] = g
				data[3*pixel+2] = b
			}
		}
	}

	s := int64(size)
	shape := []int64{1, s, s, 3}
	if n.Layout == model.LayoutNCHW {
		shape = []int64{1, 3, s, s}
	}
	return model.Tensor{Shape: shape, Data: data}
}
