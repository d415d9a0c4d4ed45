// Package imaging implements the pixel work of card restoration: decoding
// and encoding, EXIF orientation, resizing, and the red-frame detector that
// geometrically rectifies generated card images.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
)

// Canonical card surface and output encoding.
const (
	CanonicalWidth  = 3000
	CanonicalHeight = 1824
	JPEGQuality     = 95

	// ThumbnailMaxDimension bounds images sent to the vision model.
	ThumbnailMaxDimension = 1024
	ThumbnailQuality      = 85
)

// Decode decodes JPEG, PNG or WebP bytes and returns the image and format name.
func Decode(data []byte) (image.Image, string, error) {
	if isWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decode webp: %w", err)
		}
		return img, "webp", nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &UnsupportedInputError{Variant: "bytes", Reason: err.Error()}
	}
	return img, format, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// EncodeJPEG encodes img as baseline JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps JPEG bytes as a base64 data URI.
func DataURI(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

// Resize scales img to exactly w×h using Catmull-Rom resampling.
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// ToCanonical resizes img to the canonical card surface and encodes it.
func ToCanonical(img image.Image) ([]byte, error) {
	return EncodeJPEG(Resize(img, CanonicalWidth, CanonicalHeight), JPEGQuality)
}

// Thumbnail returns a JPEG whose longest side is at most maxDim. Smaller
// images are re-encoded without scaling.
func Thumbnail(data []byte, maxDim, quality int) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxDim || h > maxDim {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
		img = dst
	}
	return EncodeJPEG(img, quality)
}

// toRGBA returns img as a zero-origin *image.RGBA, copying when needed.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
