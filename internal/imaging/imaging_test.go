package imaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubpixelOrder_Channels(t *testing.T) {
	assert.Equal(t, 1, None.Channels())
	assert.Equal(t, 3, RGB.Channels())
	assert.Equal(t, 3, BGR.Channels())
	assert.Equal(t, 4, BGRA.Channels())
	assert.Equal(t, 4, RGBA.Channels())
	assert.Equal(t, 4, ABGR.Channels())
	assert.Equal(t, 4, ARGB.Channels())
}

func TestSubpixelOrder_String(t *testing.T) {
	assert.Equal(t, "RGB", RGB.String())
	assert.Equal(t, "BGRA", BGRA.String())
}

func TestToRGB_AlreadyRGB_NoOp(t *testing.T) {
	img := Image{Width: 2, Height: 1, Format: RGB, Pixels: []byte{1, 2, 3, 4, 5, 6}}
	out, err := ToRGB(img)
	assert.NoError(t, err)
	assert.Equal(t, img.Pixels, out.Pixels)
}

func TestToRGB_ABGR_ReordersChannels(t *testing.T) {
	// One pixel: A=255 B=10 G=20 R=30
	img := Image{Width: 1, Height: 1, Format: ABGR, Pixels: []byte{255, 10, 20, 30}}
	out, err := ToRGB(img)
	assert.NoError(t, err)
	assert.Equal(t, RGB, out.Format)
	assert.Equal(t, []byte{30, 20, 10}, out.Pixels)
}

func TestToRGB_ARGB_ReordersChannels(t *testing.T) {
	// One pixel: A=255 R=30 G=20 B=10
	img := Image{Width: 1, Height: 1, Format: ARGB, Pixels: []byte{255, 30, 20, 10}}
	out, err := ToRGB(img)
	assert.NoError(t, err)
	assert.Equal(t, RGB, out.Format)
	assert.Equal(t, []byte{30, 20, 10}, out.Pixels)
}

func TestCrop_ExtractsSubImage(t *testing.T) {
	// 3x2 grayscale image:
	// 0 1 2
	// 3 4 5
	img := Image{Width: 3, Height: 2, Format: None, Pixels: []byte{0, 1, 2, 3, 4, 5}}

	out, err := Crop(img, 1, 0, 2, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 2, out.Height)
	assert.Equal(t, []byte{1, 2, 4, 5}, out.Pixels)
}

func TestCrop_DoesNotAliasSource(t *testing.T) {
	img := Image{Width: 2, Height: 1, Format: None, Pixels: []byte{7, 8}}
	out, err := Crop(img, 0, 0, 1, 1)
	assert.NoError(t, err)
	out.Pixels[0] = 99
	assert.Equal(t, byte(7), img.Pixels[0])
}

func TestCrop_OutOfBounds(t *testing.T) {
	img := Image{Width: 2, Height: 2, Format: RGB, Pixels: make([]byte, 12)}
	_, err := Crop(img, 1, 1, 5, 5)
	assert.Error(t, err)
}
