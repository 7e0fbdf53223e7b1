package dwa

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/viam-labs/navloop/spatialmath"
)

// State is one instant of a rolled-out trajectory.
type State struct {
	Pose  spatialmath.Pose
	Twist spatialmath.Twist
}

// Trajectory is a fixed-horizon rollout; index 0 is the step after "now".
type Trajectory []State

// Endpoint returns the final position of the trajectory, or the origin for
// an empty one.
func (t Trajectory) Endpoint() r2.Point {
	if len(t) == 0 {
		return r2.Point{}
	}
	return t[len(t)-1].Pose.Point()
}

// Rollout integrates the unicycle model at constant (v, w) for n explicit
// Euler steps of dt, starting from the body-frame origin. The heading
// updates before the position, matching the discrete model the window
// derivation assumes.
func Rollout(v, w float64, n int, dt float64) Trajectory {
	traj := make(Trajectory, 0, n)
	var x, y, yaw float64
	for i := 0; i < n; i++ {
		yaw += w * dt
		x += v * math.Cos(yaw) * dt
		y += v * math.Sin(yaw) * dt
		traj = append(traj, State{
			Pose:  spatialmath.Pose{X: x, Y: y, Theta: spatialmath.WrapAngle(yaw)},
			Twist: spatialmath.Twist{Linear: v, Angular: w},
		})
	}
	return traj
}

// RolloutTurn rolls an in-place turn at the given rate, used to screen a
// proposed turn for collisions before commanding it.
func RolloutTurn(w float64, n int, dt float64) Trajectory {
	return Rollout(0, w, n, dt)
}
