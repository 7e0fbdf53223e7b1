package spatialmath

import (
	"math"

	"github.com/golang/geo/r2"
)

const floatEpsilon = 1e-9

// DistToLine returns the perpendicular distance from pt to the infinite line
// through a and b. When a and b coincide the plain point distance is used.
func DistToLine(pt, a, b r2.Point) float64 {
	ab := b.Sub(a)
	norm := ab.Norm()
	if norm < floatEpsilon {
		return pt.Sub(a).Norm()
	}
	return math.Abs(ab.Cross(pt.Sub(a))) / norm
}

// TriangleContains reports whether pt lies strictly inside the triangle
// (a, b, c). The three edge cross products must share a strict sign, so
// points on an edge are reported outside.
func TriangleContains(a, b, c, pt r2.Point) bool {
	d0 := b.Sub(a).Cross(pt.Sub(a))
	d1 := c.Sub(b).Cross(pt.Sub(b))
	d2 := a.Sub(c).Cross(pt.Sub(c))
	if d0 > 0 && d1 > 0 && d2 > 0 {
		return true
	}
	return d0 < 0 && d1 < 0 && d2 < 0
}

// RaySegmentIntersection intersects the ray from origin through dir with the
// segment [s0, s1]. The second return is false when the ray misses the
// segment or runs parallel to it.
func RaySegmentIntersection(origin, dir, s0, s1 r2.Point) (r2.Point, bool) {
	seg := s1.Sub(s0)
	denom := dir.Cross(seg)
	if math.Abs(denom) < floatEpsilon {
		return r2.Point{}, false
	}
	diff := s0.Sub(origin)
	t := diff.Cross(seg) / denom
	u := diff.Cross(dir) / denom
	if t < 0 || u < -floatEpsilon || u > 1+floatEpsilon {
		return r2.Point{}, false
	}
	return origin.Add(dir.Mul(t)), true
}

// Float64AlmostEqual reports whether a and b are within epsilon of each other.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}
