package imaging

import "image"

// Mask is a binary image stored row-major, true where the pixel is set.
type Mask struct {
	W, H int
	Bits []bool
}

// NewMask returns an empty w×h mask.
func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Bits: make([]bool, w*h)}
}

// At reports whether (x, y) is set. Out-of-range coordinates are unset.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Bits[y*m.W+x]
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// HSV holds a color on the 8-bit scale used by the frame detector:
// H in [0,180], S and V in [0,255].
type HSV struct {
	H, S, V int
}

// RGBToHSV converts 8-bit RGB using the half-degree hue scale.
func RGBToHSV(r, g, b uint8) HSV {
	rf, gf, bf := float64(r), float64(g), float64(b)
	v := max(rf, gf, bf)
	mn := min(rf, gf, bf)
	diff := v - mn

	var s float64
	if v > 0 {
		s = diff * 255 / v
	}

	var h float64
	if diff > 0 {
		switch v {
		case rf:
			h = 60 * (gf - bf) / diff
		case gf:
			h = 120 + 60*(bf-rf)/diff
		default:
			h = 240 + 60*(rf-gf)/diff
		}
		if h < 0 {
			h += 360
		}
	}
	return HSV{H: int(h/2 + 0.5), S: int(s + 0.5), V: int(v)}
}

// HSVRange is an inclusive box in HSV space.
type HSVRange struct {
	Lo, Hi HSV
}

func (r HSVRange) contains(c HSV) bool {
	return c.H >= r.Lo.H && c.H <= r.Hi.H &&
		c.S >= r.Lo.S && c.S <= r.Hi.S &&
		c.V >= r.Lo.V && c.V <= r.Hi.V
}

// RedRanges select the accent red on both ends of the hue wheel.
var RedRanges = []HSVRange{
	{Lo: HSV{0, 70, 50}, Hi: HSV{10, 255, 255}},
	{Lo: HSV{170, 70, 50}, Hi: HSV{180, 255, 255}},
}

// ColorMask sets every pixel of src whose HSV value falls in any range.
func ColorMask(src *image.RGBA, ranges []HSVRange) *Mask {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	m := NewMask(w, h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			c := RGBToHSV(p[0], p[1], p[2])
			for _, r := range ranges {
				if r.contains(c) {
					m.Bits[y*w+x] = true
					break
				}
			}
		}
	}
	return m
}

// Open applies a morphological opening with a k×k square kernel: an
// erosion followed by a dilation. Pixels outside the mask never erode
// the border.
func (m *Mask) Open(k int) *Mask {
	return m.erode(k).dilate(k)
}

func (m *Mask) erode(k int) *Mask {
	return m.separable(k, true)
}

func (m *Mask) dilate(k int) *Mask {
	return m.separable(k, false)
}

// separable runs a k-wide min (erode) or max (dilate) filter along rows,
// then along columns. Out-of-range samples are skipped.
func (m *Mask) separable(k int, erode bool) *Mask {
	r := k / 2
	tmp := NewMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		row := m.Bits[y*m.W : (y+1)*m.W]
		for x := 0; x < m.W; x++ {
			tmp.Bits[y*m.W+x] = fold(row, max(0, x-r), min(m.W-1, x+r), 1, erode)
		}
	}
	out := NewMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		lo, hi := max(0, y-r), min(m.H-1, y+r)
		for x := 0; x < m.W; x++ {
			out.Bits[y*m.W+x] = fold(tmp.Bits[x:], lo, hi, m.W, erode)
		}
	}
	return out
}

// fold combines bits[i*stride] for i in [lo, hi] with AND (erode) or OR.
func fold(bits []bool, lo, hi, stride int, erode bool) bool {
	for i := lo; i <= hi; i++ {
		v := bits[i*stride]
		if erode && !v {
			return false
		}
		if !erode && v {
			return true
		}
	}
	return erode
}
