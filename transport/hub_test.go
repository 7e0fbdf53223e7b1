package transport

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/viam-labs/navloop/obstacle"
	"github.com/viam-labs/navloop/spatialmath"
)

func TestSnapshotDefaults(t *testing.T) {
	h := NewHub(0.8, 0.01, 0.1)
	snap := h.Snapshot()
	test.That(t, snap.HasGoal, test.ShouldBeFalse)
	test.That(t, snap.HasPath, test.ShouldBeFalse)
	test.That(t, snap.TargetVelocity, test.ShouldEqual, 0.8)
	test.That(t, snap.GoalDistThreshold, test.ShouldEqual, 0.1)
	// odometry has never arrived, so it must read as stale
	test.That(t, snap.OdomAge, test.ShouldBeGreaterThan, 0)
}

func TestFreshnessAges(t *testing.T) {
	h := NewHub(0.8, 0.01, 0.1)
	h.AdvanceTick()
	h.SetOdometry(spatialmath.Twist{Linear: 0.2})
	h.SetScan(&obstacle.LaserScan{AngleIncrement: 0.01, Ranges: []float64{1}})

	snap := h.Snapshot()
	test.That(t, snap.OdomAge, test.ShouldEqual, 0)
	test.That(t, snap.ScanAge, test.ShouldEqual, 0)

	for i := 0; i < 5; i++ {
		h.AdvanceTick()
	}
	snap = h.Snapshot()
	test.That(t, snap.OdomAge, test.ShouldEqual, 5)
	test.That(t, snap.ScanAge, test.ShouldEqual, 5)
	test.That(t, snap.Twist.Linear, test.ShouldEqual, 0.2)
}

func TestGoalSupersedes(t *testing.T) {
	h := NewHub(0.8, 0.01, 0.1)
	h.SetGoal(spatialmath.NewPose(1, 0, 0))
	first := h.Snapshot()
	h.SetGoal(spatialmath.NewPose(2, 2, 1))
	second := h.Snapshot()

	test.That(t, first.HasGoal, test.ShouldBeTrue)
	test.That(t, second.Goal.X, test.ShouldEqual, 2)
	test.That(t, second.GoalSeq, test.ShouldEqual, first.GoalSeq+1)
}

func TestFootprintPaddedOnReceipt(t *testing.T) {
	pad := 0.01
	h := NewHub(0.8, pad, 0.1)
	h.SetFootprint([]r2.Point{{X: 0.3, Y: 0.2}, {X: -0.3, Y: 0.2}, {X: -0.3, Y: -0.2}, {X: 0.3, Y: -0.2}})
	snap := h.Snapshot()
	// expected values use the same float64 sums as the padding itself
	test.That(t, snap.Footprint[0], test.ShouldResemble, r2.Point{X: 0.3 + pad, Y: 0.2 + pad})
	test.That(t, snap.Footprint[2], test.ShouldResemble, r2.Point{X: -0.3 - pad, Y: -0.2 - pad})
}

func TestTargetVelocityClamped(t *testing.T) {
	h := NewHub(0.8, 0.01, 0.1)
	h.SetTargetVelocity(5)
	test.That(t, h.Snapshot().TargetVelocity, test.ShouldEqual, 0.8)
	h.SetTargetVelocity(0.3)
	test.That(t, h.Snapshot().TargetVelocity, test.ShouldEqual, 0.3)
}

func TestPathEndpoints(t *testing.T) {
	h := NewHub(0.8, 0.01, 0.1)
	h.SetPath([]spatialmath.Pose{
		spatialmath.NewPose(0, 0, 0),
		spatialmath.NewPose(1, 0.5, 0),
		spatialmath.NewPose(5, 0, 0),
	})
	snap := h.Snapshot()
	test.That(t, snap.HasPath, test.ShouldBeTrue)
	test.That(t, snap.PathStart.X, test.ShouldEqual, 0)
	test.That(t, snap.PathEnd.X, test.ShouldEqual, 5)
}

func TestOdomTransformer(t *testing.T) {
	ctx := context.Background()
	tf := NewOdomTransformer()

	_, err := tf.Pose(ctx, FrameWorld, FrameBody)
	test.That(t, err, test.ShouldBeError, ErrNoPose)

	robot := spatialmath.NewPose(2, 1, math.Pi/2)
	tf.SetPose(robot)

	bodyToWorld, err := tf.Pose(ctx, FrameBody, FrameWorld)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bodyToWorld, test.ShouldResemble, robot)

	worldToBody, err := tf.Pose(ctx, FrameWorld, FrameBody)
	test.That(t, err, test.ShouldBeNil)
	// a goal one meter ahead of the robot in world coordinates lands on the
	// body x-axis
	goal := worldToBody.TransformPoint(r2.Point{X: 2, Y: 2})
	test.That(t, goal.X, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, goal.Y, test.ShouldAlmostEqual, 0, 1e-12)

	_, err = tf.Pose(ctx, "map", FrameBody)
	test.That(t, err, test.ShouldBeError, ErrUnknownFrame)
}
