// Package collision tests candidate robot poses against the tick's obstacle
// set. The robot is a padded polygon in its own body frame; containment
// decomposes the polygon into a triangle fan rooted at the robot position.
package collision

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/viam-labs/navloop/spatialmath"
)

// circleVertexCount is the vertex count of the polygon standing in for a
// disk footprint.
const circleVertexCount = 20

// Footprint is the robot outline in the body frame. Polygonal footprints
// carry vertices already padded outward; disk footprints remember the padded
// radius for the scalar distance shortcut.
type Footprint struct {
	verts    []r2.Point
	circular bool
	radius   float64
}

// PadVertices pads each vertex outward componentwise by sign, the transform
// applied to a polygonal footprint on receipt.
func PadVertices(verts []r2.Point, pad float64) []r2.Point {
	padded := make([]r2.Point, len(verts))
	for i, v := range verts {
		padded[i] = r2.Point{
			X: v.X + math.Copysign(pad, v.X),
			Y: v.Y + math.Copysign(pad, v.Y),
		}
	}
	return padded
}

// NewFootprint wraps an already padded polygon vertex list.
func NewFootprint(verts []r2.Point) *Footprint {
	return &Footprint{verts: verts}
}

// NewCircularFootprint approximates a disk of the given padded radius with a
// regular polygon.
func NewCircularFootprint(radius float64) *Footprint {
	verts := make([]r2.Point, circleVertexCount)
	for i := range verts {
		theta := 2 * math.Pi * float64(i) / circleVertexCount
		s, c := math.Sincos(theta)
		verts[i] = r2.Point{X: radius * c, Y: radius * s}
	}
	return &Footprint{verts: verts, circular: true, radius: radius}
}

// Vertices returns the body-frame vertex list.
func (f *Footprint) Vertices() []r2.Point {
	return f.verts
}

// Transform rigidly moves the footprint to the candidate pose.
func (f *Footprint) Transform(pose spatialmath.Pose) []r2.Point {
	moved := make([]r2.Point, len(f.verts))
	for i, v := range f.verts {
		moved[i] = pose.TransformPoint(v)
	}
	return moved
}

// Contains reports whether pt lies inside the footprint placed at pose. The
// robot position is the interior reference point for the triangle fan.
// Points on a spoke shared by two fan triangles, and the robot position
// itself, count as inside; points on the outer boundary do not.
func (f *Footprint) Contains(pose spatialmath.Pose, pt r2.Point) bool {
	center := pose.Point()
	moved := f.Transform(pose)
	rel := pt.Sub(center)
	for i := range moved {
		a, b := moved[i], moved[(i+1)%len(moved)]
		if spatialmath.TriangleContains(center, a, b, pt) {
			return true
		}
		// the strict test rejects the spokes; accept a point strictly
		// inside the outer edge and on or between the two spokes
		sa, sb := a.Sub(center), b.Sub(center)
		orient := sa.Cross(sb)
		if orient == 0 {
			continue
		}
		o := math.Copysign(1, orient)
		if o*b.Sub(a).Cross(pt.Sub(a)) > 0 && o*sa.Cross(rel) >= 0 && o*rel.Cross(sb) >= 0 {
			return true
		}
	}
	return false
}

// Distance returns the clearance between pt and the footprint boundary at
// pose: zero when contained, otherwise the distance from pt to where the ray
// from the robot position through pt exits the polygon. Disk footprints use
// the scalar radius shortcut.
func (f *Footprint) Distance(pose spatialmath.Pose, pt r2.Point) float64 {
	if f.Contains(pose, pt) {
		return 0
	}
	center := pose.Point()
	if f.circular {
		d := pt.Sub(center).Norm() - f.radius
		if d < 0 {
			return 0
		}
		return d
	}

	dir := pt.Sub(center)
	moved := f.Transform(pose)
	best := math.Inf(1)
	for i := range moved {
		hit, ok := spatialmath.RaySegmentIntersection(center, dir, moved[i], moved[(i+1)%len(moved)])
		if !ok {
			continue
		}
		if d := pt.Sub(hit).Norm(); d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		// degenerate polygon; fall back to the nearest vertex
		for _, v := range moved {
			if d := pt.Sub(v).Norm(); d < best {
				best = d
			}
		}
	}
	return best
}
