package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/visionai-api/internal/model"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assertUnitRange(t *testing.T, data []float32) {
	t.Helper()
	for i, v := range data {
		if v < 0 || v > 1 {
			t.Fatalf("value %d out of range: %f", i, v)
		}
	}
}

func TestNormalizeFormats(t *testing.T) {
	src := solidImage(120, 80, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, &jpeg.Options{Quality: 95}))
	var gf bytes.Buffer
	require.NoError(t, gif.Encode(&gf, src, nil))
	webp, err := os.ReadFile("testdata/sample.webp")
	require.NoError(t, err)

	inputs := map[string][]byte{
		"png":  encodePNG(t, src),
		"jpeg": jpg.Bytes(),
		"gif":  gf.Bytes(),
		"webp": webp,
	}

	n := NewNormalizer(model.DefaultMetadata())
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			tensor, err := n.Normalize(raw)
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 96, 96, 3}, tensor.Shape)
			assert.Len(t, tensor.Data, 96*96*3)
			assertUnitRange(t, tensor.Data)
		})
	}
}

func TestNormalizeScalesPixelValues(t *testing.T) {
	n := NewNormalizer(model.DefaultMetadata())
	tensor, err := n.Normalize(encodePNG(t, solidImage(10, 10, color.RGBA{R: 255, G: 0, B: 51, A: 255})))
	require.NoError(t, err)

	// first pixel, NHWC
	assert.InDelta(t, 1.0, tensor.Data[0], 0.01)
	assert.InDelta(t, 0.0, tensor.Data[1], 0.01)
	assert.InDelta(t, 0.2, tensor.Data[2], 0.01)
}

func TestNormalizeDropsAlphaAndGrayscale(t *testing.T) {
	n := NewNormalizer(model.DefaultMetadata())

	translucent := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(translucent.Pix); i += 4 {
		copy(translucent.Pix[i:i+4], []byte{0, 255, 0, 128})
	}
	tensor, err := n.Normalize(encodePNG(t, translucent))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tensor.Data[1], 0.02)

	gray := image.NewGray(image.Rect(0, 0, 30, 30))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}
	tensor, err = n.Normalize(encodePNG(t, gray))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 96, 96, 3}, tensor.Shape)
	assert.InDelta(t, tensor.Data[0], tensor.Data[1], 1e-6)
	assert.InDelta(t, tensor.Data[1], tensor.Data[2], 1e-6)
}

func TestNormalizeChannelsFirst(t *testing.T) {
	meta := model.DefaultMetadata()
	meta.Layout = model.LayoutNCHW
	meta.ImageSize = 48
	n := NewNormalizer(meta)

	tensor, err := n.Normalize(encodePNG(t, solidImage(64, 64, color.RGBA{R: 255, A: 255})))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 48, 48}, tensor.Shape)

	plane := 48 * 48
	assert.InDelta(t, 1.0, tensor.Data[0], 0.01)
	assert.InDelta(t, 0.0, tensor.Data[plane], 0.01)
	assert.InDelta(t, 0.0, tensor.Data[2*plane], 0.01)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	n := NewNormalizer(model.DefaultMetadata())

	cases := map[string][]byte{
		"empty":     nil,
		"text":      []byte("definitely not an image"),
		"truncated": encodePNG(t, solidImage(20, 20, color.White))[:40],
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnprocessable))
		})
	}
}

func TestNewNormalizerDefaults(t *testing.T) {
	n := NewNormalizer(model.Metadata{})
	assert.Equal(t, model.DefaultImageSize, n.Size)
	assert.Equal(t, model.LayoutNHWC, n.Layout)
}
