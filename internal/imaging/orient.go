package imaging

import (
	"bytes"
	"image"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Orientation returns the EXIF orientation tag (1-8) of an encoded image,
// or 1 when the image carries no readable EXIF block.
func Orientation(data []byte) (o int) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("EXIF parser panicked, assuming upright")
			o = 1
		}
	}()

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF orientation, assuming upright")
		return 1
	}
	o = int(exifData.Orientation)
	if o < 1 || o > 8 {
		return 1
	}
	return o
}

// ApplyOrientation rotates and flips img so that EXIF orientation o becomes
// upright.
func ApplyOrientation(img image.Image, o int) image.Image {
	if o <= 1 || o > 8 {
		return img
	}
	src := toRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()

	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // rotate 90 CW
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 90 CCW
				dx, dy = y, w-1-x
			}
			si := src.PixOffset(x, y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}
