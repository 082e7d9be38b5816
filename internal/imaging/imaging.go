// Package imaging converts raw frames pulled from the shared memory image
// ring into 24-bit RGB, the only format the detector accepts.
package imaging

import (
	"fmt"

	"gocv.io/x/gocv"
)

// SubpixelOrder is the channel layout of a raw pixel buffer, a tagged
// variant rather than a capability hierarchy: conversion is a pure function
// of (SubpixelOrder, Image), never a method dispatched per format.
type SubpixelOrder uint8

const (
	None SubpixelOrder = iota // grayscale
	RGB
	BGR
	BGRA
	RGBA
	ABGR
	ARGB
)

func (o SubpixelOrder) String() string {
	switch o {
	case None:
		return "None"
	case RGB:
		return "RGB"
	case BGR:
		return "BGR"
	case BGRA:
		return "BGRA"
	case RGBA:
		return "RGBA"
	case ABGR:
		return "ABGR"
	case ARGB:
		return "ARGB"
	default:
		return fmt.Sprintf("SubpixelOrder(%d)", uint8(o))
	}
}

// Channels returns the number of bytes per pixel for the order.
func (o SubpixelOrder) Channels() int {
	switch o {
	case None:
		return 1
	case RGB, BGR:
		return 3
	case BGRA, RGBA, ABGR, ARGB:
		return 4
	default:
		return 0
	}
}

// Image is a raw byte buffer tagged with its dimensions and subpixel order.
// Its lifetime is bounded to one iteration of the pipeline loop — callers
// must not retain Pixels past the next ImageStream read.
type Image struct {
	Width, Height int
	Format        SubpixelOrder
	Pixels        []byte
}

// ToRGB converts img to 24-bit RGB, the format the detector requires.
// Conversions with a direct OpenCV color code (grayscale, BGR, BGRA, RGBA)
// go through gocv.CvtColor; ABGR and ARGB have no cvtColor code of their
// own (OpenCV has no alpha-first conversion), so those are done as a plain
// channel reorder.
func ToRGB(img Image) (Image, error) {
	if img.Format == RGB {
		return img, nil
	}

	switch img.Format {
	case ABGR:
		return Image{Width: img.Width, Height: img.Height, Format: RGB, Pixels: reorder4(img.Pixels, 3, 2, 1)}, nil
	case ARGB:
		return Image{Width: img.Width, Height: img.Height, Format: RGB, Pixels: reorder4(img.Pixels, 1, 2, 3)}, nil
	}

	matType := gocv.MatTypeCV8UC3
	switch img.Format {
	case None:
		matType = gocv.MatTypeCV8UC1
	case BGRA, RGBA:
		matType = gocv.MatTypeCV8UC4
	}

	src, err := gocv.NewMatFromBytes(img.Height, img.Width, matType, img.Pixels)
	if err != nil {
		return Image{}, fmt.Errorf("imaging: wrapping source bytes: %w", err)
	}
	defer src.Close()

	var code gocv.ColorConversionCode
	switch img.Format {
	case None:
		code = gocv.ColorGrayToBGR
	case BGR:
		code = gocv.ColorBGRToRGB
	case BGRA:
		code = gocv.ColorBGRAToRGB
	case RGBA:
		code = gocv.ColorRGBAToRGB
	default:
		return Image{}, fmt.Errorf("imaging: unsupported subpixel order %s", img.Format)
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.CvtColor(src, &dst, code)

	return Image{
		Width:  img.Width,
		Height: img.Height,
		Format: RGB,
		Pixels: dst.ToBytes(),
	}, nil
}

// Crop extracts the sub-image at (x,y,w,h) from img, copying each scanline
// so the result never aliases img.Pixels — the caller is free to let img go
// out of scope (ImageStream.Next's buffer is only valid for one pipeline
// iteration) while still holding onto the cropped frame.
func Crop(img Image, x, y, w, h int) (Image, error) {
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > img.Width || y+h > img.Height {
		return Image{}, fmt.Errorf("imaging: crop rect (%d,%d,%d,%d) out of bounds for %dx%d image", x, y, w, h, img.Width, img.Height)
	}
	channels := img.Format.Channels()
	if channels == 0 {
		return Image{}, fmt.Errorf("imaging: unknown channel count for format %s", img.Format)
	}

	srcStride := img.Width * channels
	dstStride := w * channels
	out := make([]byte, h*dstStride)
	for row := 0; row < h; row++ {
		srcOff := (y+row)*srcStride + x*channels
		copy(out[row*dstStride:(row+1)*dstStride], img.Pixels[srcOff:srcOff+dstStride])
	}

	return Image{Width: w, Height: h, Format: img.Format, Pixels: out}, nil
}

// reorder4 extracts three of four interleaved channels (indices ra, ga, ba
// within each 4-byte pixel) into a tightly packed 3-channel buffer.
func reorder4(src []byte, ra, ga, ba int) []byte {
	n := len(src) / 4
	out := make([]byte, n*3)
	for i := 0; i < n; i++ {
		px := src[i*4 : i*4+4]
		out[i*3+0] = px[ra]
		out[i*3+1] = px[ga]
		out[i*3+2] = px[ba]
	}
	return out
}
