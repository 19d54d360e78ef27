/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
)

// JPEGQuality is used for every encoded frame.
const JPEGQuality = 80

// MaxFrameDimension bounds width and height so buffer sizes stay within int
// on every platform.
const MaxFrameDimension = 16384

const maxChannels = 4

// PixelFormat is the layout of raw frame bytes.
type PixelFormat string

const (
	FormatRGB  PixelFormat = "RGB_INT8"
	FormatRGBA PixelFormat = "RGBA_INT8"
	FormatBGR  PixelFormat = "BGR_INT8"
	FormatGray PixelFormat = "L_INT8"
)

// ParsePixelFormat accepts the engine's enum names. An empty name is resolved
// from the row stride.
func ParsePixelFormat(name string, width, step int) (PixelFormat, error) {
	switch PixelFormat(strings.ToUpper(strings.TrimSpace(name))) {
	case FormatRGB:
		return FormatRGB, nil
	case FormatRGBA:
		return FormatRGBA, nil
	case FormatBGR:
		return FormatBGR, nil
	case FormatGray:
		return FormatGray, nil
	case "":
		if width > 0 {
			switch step / width {
			case 3:
				return FormatRGB, nil
			case 4:
				return FormatRGBA, nil
			case 1:
				return FormatGray, nil
			}
		}
	}
	return "", fmt.Errorf("unsupported pixel format %q", name)
}

func (f PixelFormat) channels() int {
	switch f {
	case FormatRGBA:
		return 4
	case FormatGray:
		return 1
	default:
		return 3
	}
}

// Frame is one raw image as received from a frame source.
type Frame struct {
	Width  int
	Height int
	Step   int // Bytes per row, 0 means tightly packed
	Format PixelFormat
	Data   []byte
}

func (f Frame) stride() int {
	if f.Step > 0 {
		return f.Step
	}
	return f.Width * f.Format.channels()
}

// Validate checks the buffer is large enough for the declared geometry.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 || f.Width > MaxFrameDimension || f.Height > MaxFrameDimension {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.Step < 0 || f.Step > MaxFrameDimension*maxChannels {
		return fmt.Errorf("invalid row stride %d", f.Step)
	}
	if f.stride() < f.Width*f.Format.channels() {
		return fmt.Errorf("row stride %d too small for %d pixels of %s", f.stride(), f.Width, f.Format)
	}
	if need := f.stride()*(f.Height-1) + f.Width*f.Format.channels(); len(f.Data) < need {
		return fmt.Errorf("frame data has %d bytes, need %d", len(f.Data), need)
	}
	return nil
}

// RGB returns tightly packed 24-bit RGB pixels, the input format of the
// video encoder.
func (f Frame) RGB() []byte {
	ch := f.Format.channels()
	stride := f.stride()
	out := make([]byte, 0, f.Width*f.Height*3)
	for y := 0; y < f.Height; y++ {
		row := f.Data[y*stride:]
		for x := 0; x < f.Width; x++ {
			p := row[x*ch:]
			switch f.Format {
			case FormatGray:
				out = append(out, p[0], p[0], p[0])
			case FormatBGR:
				out = append(out, p[2], p[1], p[0])
			default:
				out = append(out, p[0], p[1], p[2])
			}
		}
	}
	return out
}

// Image converts the frame into an image.Image without color management.
func (f Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	stride := f.stride()

	switch f.Format {
	case FormatGray:
		img := image.NewGray(rect)
		for y := 0; y < f.Height; y++ {
			copy(img.Pix[y*img.Stride:], f.Data[y*stride:y*stride+f.Width])
		}
		return img
	case FormatRGBA:
		img := image.NewNRGBA(rect)
		for y := 0; y < f.Height; y++ {
			copy(img.Pix[y*img.Stride:], f.Data[y*stride:y*stride+f.Width*4])
		}
		return img
	}

	img := image.NewNRGBA(rect)
	rgb := f.RGB()
	for i, j := 0, 0; i < len(rgb); i, j = i+3, j+4 {
		img.Pix[j] = rgb[i]
		img.Pix[j+1] = rgb[i+1]
		img.Pix[j+2] = rgb[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// EncodeJPEG validates and encodes the frame.
func EncodeJPEG(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
