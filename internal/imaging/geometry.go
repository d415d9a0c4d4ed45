package imaging

import (
	"errors"
	"image"
	"math"
)

// ErrSingular is returned when four point pairs do not define a projective
// mapping.
var ErrSingular = errors.New("singular perspective transform")

// Point is a sub-pixel image coordinate.
type Point struct {
	X, Y float64
}

// OrderPoints arranges four corners as top-left, top-right, bottom-right,
// bottom-left. Top-left and bottom-right have the smallest and largest x+y;
// top-right and bottom-left have the smallest and largest y-x.
func OrderPoints(pts [4]Point) [4]Point {
	tl, br, tr, bl := 0, 0, 0, 0
	for i := 1; i < 4; i++ {
		p := pts[i]
		if p.X+p.Y < pts[tl].X+pts[tl].Y {
			tl = i
		}
		if p.X+p.Y > pts[br].X+pts[br].Y {
			br = i
		}
		if p.Y-p.X < pts[tr].Y-pts[tr].X {
			tr = i
		}
		if p.Y-p.X > pts[bl].Y-pts[bl].X {
			bl = i
		}
	}
	return [4]Point{pts[tl], pts[tr], pts[br], pts[bl]}
}

// RectCorners returns the destination corners of a w×h surface. The far
// corners are inclusive pixel centers at w-1 and h-1.
func RectCorners(w, h int) [4]Point {
	fw, fh := float64(w-1), float64(h-1)
	return [4]Point{{0, 0}, {fw, 0}, {fw, fh}, {0, fh}}
}

// Homography is a row-major 3×3 projective matrix.
type Homography [9]float64

// Apply maps p through h.
func (h Homography) Apply(p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// PerspectiveTransform solves the homography mapping each src[i] to dst[i].
func PerspectiveTransform(src, dst [4]Point) (Homography, error) {
	// Unknowns a..h with h22 fixed at 1:
	//   u = (a x + b y + c) / (g x + h y + 1)
	//   v = (d x + e y + f) / (g x + h y + 1)
	var m [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		m[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * u, -y * u, u}
		m[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * v, -y * v, v}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-10 {
			return Homography{}, ErrSingular
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := m[r][col] / m[col][col]
			for c := col; c < 9; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = m[i][8] / m[i][i]
	}
	h[8] = 1
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Homography{}, ErrSingular
		}
	}
	return h, nil
}

// Warp renders a w×h image whose pixel (x, y) samples src at
// inverse.Apply(x, y) with bilinear interpolation. Samples outside src are
// black.
func Warp(src image.Image, inverse Homography, w, h int) *image.RGBA {
	s := toRGBA(src)
	sw, sh := s.Rect.Dx(), s.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := inverse.Apply(Point{float64(x), float64(y)})
			if p.X < 0 || p.Y < 0 || p.X > float64(sw-1) || p.Y > float64(sh-1) || math.IsNaN(p.X) || math.IsNaN(p.Y) {
				continue
			}
			x0, y0 := int(p.X), int(p.Y)
			x1, y1 := min(x0+1, sw-1), min(y0+1, sh-1)
			fx, fy := p.X-float64(x0), p.Y-float64(y0)

			i00 := s.PixOffset(x0, y0)
			i10 := s.PixOffset(x1, y0)
			i01 := s.PixOffset(x0, y1)
			i11 := s.PixOffset(x1, y1)
			di := dst.PixOffset(x, y)
			for c := 0; c < 4; c++ {
				top := float64(s.Pix[i00+c])*(1-fx) + float64(s.Pix[i10+c])*fx
				bot := float64(s.Pix[i01+c])*(1-fx) + float64(s.Pix[i11+c])*fx
				dst.Pix[di+c] = uint8(top*(1-fy) + bot*fy + 0.5)
			}
		}
	}
	return dst
}
