// Package spatialmath contains the planar geometry used by the local planner:
// poses, twists, angle wrapping, and the point/line/triangle predicates the
// collision kernel is built on.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r2"
)

// Pose is a position and heading in some named planar frame. Theta is CCW
// radians; consumers must tolerate any wrapped representative in (-pi, pi].
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// NewPose constructs a Pose with a wrapped heading.
func NewPose(x, y, theta float64) Pose {
	return Pose{X: x, Y: y, Theta: WrapAngle(theta)}
}

// Point returns the position component of the pose.
func (p Pose) Point() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// TransformPoint maps a point expressed in the pose's frame into the parent
// frame: rotation by Theta followed by translation.
func (p Pose) TransformPoint(pt r2.Point) r2.Point {
	s, c := math.Sincos(p.Theta)
	return r2.Point{
		X: c*pt.X - s*pt.Y + p.X,
		Y: s*pt.X + c*pt.Y + p.Y,
	}
}

// Invert returns the pose mapping the parent frame back into this pose's
// frame, such that Compose(p, p.Invert()) is identity.
func (p Pose) Invert() Pose {
	s, c := math.Sincos(p.Theta)
	return Pose{
		X:     -(c*p.X + s*p.Y),
		Y:     -(-s*p.X + c*p.Y),
		Theta: WrapAngle(-p.Theta),
	}
}

// Compose returns the pose equivalent to applying a then b.
func Compose(a, b Pose) Pose {
	pt := a.TransformPoint(r2.Point{X: b.X, Y: b.Y})
	return Pose{X: pt.X, Y: pt.Y, Theta: WrapAngle(a.Theta + b.Theta)}
}

// Twist is a body-frame velocity command: forward linear speed and CCW
// angular speed.
type Twist struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// WrapAngle wraps an angle to (-pi, pi].
func WrapAngle(theta float64) float64 {
	wrapped := math.Mod(theta, 2*math.Pi)
	if wrapped > math.Pi {
		wrapped -= 2 * math.Pi
	} else if wrapped <= -math.Pi {
		wrapped += 2 * math.Pi
	}
	return wrapped
}
