package imaging

import (
	"image"
	"math"
)

// Contour is a closed boundary polygon in pixel coordinates.
type Contour []image.Point

// neighbors in clockwise order on screen (y grows downward), starting east.
var neighbors = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

func neighborIndex(d image.Point) int {
	for i, n := range neighbors {
		if n == d {
			return i
		}
	}
	return -1
}

// ExternalContours returns the outer boundary of every 8-connected
// component of m, compressed so that straight horizontal, vertical and
// diagonal runs keep only their end points.
func ExternalContours(m *Mask) []Contour {
	labeled := make([]bool, len(m.Bits))
	var contours []Contour
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			i := y*m.W + x
			if !m.Bits[i] || labeled[i] {
				continue
			}
			// First pixel of a component in raster order: its west and
			// northern neighbors are background.
			contours = append(contours, compress(trace(m, image.Pt(x, y))))
			label(m, labeled, x, y)
		}
	}
	return contours
}

// trace follows the outer boundary clockwise from start using Moore
// neighborhood tracing. It stops on re-entering start toward the same
// second point.
func trace(m *Mask, start image.Point) Contour {
	boundary := Contour{start}
	cur := start
	back := start.Add(neighbors[4])

	var second image.Point
	haveSecond := false
	limit := 4*len(m.Bits) + 8

	for step := 0; step < limit; step++ {
		k := neighborIndex(back.Sub(cur))
		next, prev, found := image.Point{}, back, false
		for j := 1; j <= 8; j++ {
			cand := cur.Add(neighbors[(k+j)%8])
			if m.At(cand.X, cand.Y) {
				next, found = cand, true
				break
			}
			prev = cand
		}
		if !found {
			return boundary // isolated pixel
		}
		if !haveSecond {
			second, haveSecond = next, true
		} else if cur == start && next == second {
			break
		}
		boundary = append(boundary, next)
		back, cur = prev, next
	}
	// The walk ends back on start; drop the duplicate.
	if len(boundary) > 1 && boundary[len(boundary)-1] == start {
		boundary = boundary[:len(boundary)-1]
	}
	return boundary
}

// label flood-fills the 8-connected component containing (x, y).
func label(m *Mask, labeled []bool, x, y int) {
	stack := []image.Point{{x, y}}
	labeled[y*m.W+x] = true
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range neighbors {
			q := p.Add(d)
			if !m.At(q.X, q.Y) {
				continue
			}
			i := q.Y*m.W + q.X
			if !labeled[i] {
				labeled[i] = true
				stack = append(stack, q)
			}
		}
	}
}

// compress keeps only the points where the chain direction changes.
func compress(c Contour) Contour {
	n := len(c)
	if n < 3 {
		return c
	}
	out := make(Contour, 0, n/2+1)
	for i := 0; i < n; i++ {
		prev := c[(i-1+n)%n]
		next := c[(i+1)%n]
		if c[i].Sub(prev) != next.Sub(c[i]) {
			out = append(out, c[i])
		}
	}
	if len(out) == 0 {
		return c[:1]
	}
	return out
}

// Area returns the absolute polygon area by the shoelace formula.
func (c Contour) Area() float64 {
	n := len(c)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		p, q := c[i], c[(i+1)%n]
		sum += float64(p.X*q.Y - q.X*p.Y)
	}
	return math.Abs(sum) / 2
}

// Perimeter returns the closed arc length.
func (c Contour) Perimeter() float64 {
	n := len(c)
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += dist(toPoint(c[i]), toPoint(c[(i+1)%n]))
	}
	return sum
}

// LargestContour returns the contour with the greatest area.
func LargestContour(cs []Contour) (Contour, float64) {
	var best Contour
	bestArea := -1.0
	for _, c := range cs {
		if a := c.Area(); a > bestArea {
			best, bestArea = c, a
		}
	}
	return best, max(bestArea, 0)
}

// ApproxPolygon simplifies a closed contour with Douglas-Peucker at the
// given tolerance, then drops vertices that lie within epsilon of the line
// through their neighbors.
func ApproxPolygon(c Contour, epsilon float64) []Point {
	pts := make([]Point, len(c))
	for i, p := range c {
		pts[i] = toPoint(p)
	}
	n := len(pts)
	if n < 3 {
		return pts
	}

	// Anchor the first split on two mutually distant points so both are
	// extremes of the curve rather than wherever the trace started.
	a := farthest(pts, 0)
	b := farthest(pts, a)
	if a == b {
		return pts[:1]
	}
	pts = append(append(make([]Point, 0, n), pts[a:]...), pts[:a]...)
	far := (b - a + n) % n

	keep := make([]bool, n)
	keep[0], keep[far] = true, true
	simplify(pts, 0, far, epsilon, keep)
	simplifyWrap(pts, far, n, epsilon, keep)

	var out []Point
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return cleanup(out, epsilon)
}

// farthest returns the index of the point in pts farthest from pts[from].
func farthest(pts []Point, from int) int {
	idx, best := from, -1.0
	for i := range pts {
		if d := dist(pts[from], pts[i]); d > best {
			idx, best = i, d
		}
	}
	return idx
}

// simplify marks the Douglas-Peucker vertices of pts[lo..hi].
func simplify(pts []Point, lo, hi int, eps float64, keep []bool) {
	stack := [][2]int{{lo, hi}}
	for len(stack) > 0 {
		seg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		a, b := seg[0], seg[1]
		if b-a < 2 {
			continue
		}
		idx, dmax := -1, -1.0
		for i := a + 1; i < b; i++ {
			if d := lineDist(pts[i], pts[a], pts[b]); d > dmax {
				idx, dmax = i, d
			}
		}
		if dmax > eps {
			keep[idx] = true
			stack = append(stack, [2]int{a, idx}, [2]int{idx, b})
		}
	}
}

// simplifyWrap handles the chain from lo through the end back to index 0.
func simplifyWrap(pts []Point, lo, n int, eps float64, keep []bool) {
	chain := make([]Point, 0, n-lo+1)
	chain = append(chain, pts[lo:]...)
	chain = append(chain, pts[0])
	sub := make([]bool, len(chain))
	simplify(chain, 0, len(chain)-1, eps, sub)
	for i := 1; i < len(chain)-1; i++ {
		if sub[i] {
			keep[lo+i] = true
		}
	}
}

// cleanup removes vertices that are nearly collinear with their neighbors.
func cleanup(pts []Point, eps float64) []Point {
	for changed := true; changed && len(pts) > 3; {
		changed = false
		n := len(pts)
		for i := 0; i < n; i++ {
			prev, next := pts[(i-1+n)%n], pts[(i+1)%n]
			if lineDist(pts[i], prev, next) <= eps {
				pts = append(pts[:i:i], pts[i+1:]...)
				changed = true
				break
			}
		}
	}
	return pts
}

func toPoint(p image.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// lineDist is the distance from p to the line through a and b.
func lineDist(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return dist(p, a)
	}
	return math.Abs(dy*(p.X-a.X)-dx*(p.Y-a.Y)) / l
}
