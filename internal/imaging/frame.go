package imaging

import (
	"image"

	"github.com/rs/zerolog/log"
)

// Frame detection tuning.
const (
	MinFrameArea     = 2000.0
	ApproxTolerance  = 0.02
	MorphKernelSize  = 5
	frameVertexCount = 4
)

// FindFrame locates the red printed frame in img and returns its corners
// ordered top-left, top-right, bottom-right, bottom-left.
func FindFrame(img image.Image) ([4]Point, bool) {
	var quad [4]Point
	src := toRGBA(img)

	mask := ColorMask(src, RedRanges).Open(MorphKernelSize)
	contours := ExternalContours(mask)
	if len(contours) == 0 {
		log.Debug().Msg("Frame crop: no red contours")
		return quad, false
	}

	best, area := LargestContour(contours)
	if area < MinFrameArea {
		log.Debug().Float64("area", area).Msg("Frame crop: largest contour too small")
		return quad, false
	}

	approx := ApproxPolygon(best, ApproxTolerance*best.Perimeter())
	if len(approx) != frameVertexCount {
		log.Debug().Int("vertices", len(approx)).Msg("Frame crop: contour is not a quadrilateral")
		return quad, false
	}
	copy(quad[:], approx)
	return OrderPoints(quad), true
}

// FrameCrop rectifies the red-framed region of img onto a w×h surface.
// It reports false when no usable frame is found.
func FrameCrop(img image.Image, w, h int) (image.Image, bool) {
	quad, ok := FindFrame(img)
	if !ok {
		return nil, false
	}
	inverse, err := PerspectiveTransform(RectCorners(w, h), quad)
	if err != nil {
		log.Debug().Err(err).Msg("Frame crop: transform failed")
		return nil, false
	}
	return Warp(img, inverse, w, h), true
}

// FrameCropBytes decodes data, rectifies its frame onto the canonical
// surface and returns the JPEG. Every failure reports false.
func FrameCropBytes(data []byte) ([]byte, bool) {
	img, _, err := Decode(data)
	if err != nil {
		log.Debug().Err(err).Msg("Frame crop: decode failed")
		return nil, false
	}
	out, ok := FrameCrop(img, CanonicalWidth, CanonicalHeight)
	if !ok {
		return nil, false
	}
	encoded, err := EncodeJPEG(out, JPEGQuality)
	if err != nil {
		return nil, false
	}
	return encoded, true
}
