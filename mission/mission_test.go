package mission

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/viam-labs/navloop/config"
	"github.com/viam-labs/navloop/obstacle"
	"github.com/viam-labs/navloop/spatialmath"
	"github.com/viam-labs/navloop/transport"
)

// recordingSink captures every published command and done flag.
type recordingSink struct {
	mu   sync.Mutex
	cmds []spatialmath.Twist
	done int
}

func (r *recordingSink) SendVelocity(cmd spatialmath.Twist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recordingSink) SendDone() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	return nil
}

func (r *recordingSink) last() spatialmath.Twist {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cmds) == 0 {
		return spatialmath.Twist{}
	}
	return r.cmds[len(r.cmds)-1]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func (r *recordingSink) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SleepAfterDone = 0
	cfg.StopHold = 0
	return cfg
}

// emptyGrid is a fresh 4m x 4m local map centered on the robot.
func emptyGrid() *obstacle.OccupancyGrid {
	w := 80
	return &obstacle.OccupancyGrid{
		Width:      w,
		Height:     w,
		Resolution: 0.05,
		OriginX:    -2,
		OriginY:    -2,
		Cells:      make([]int8, w*w),
	}
}

type fixture struct {
	svc  *Service
	hub  *transport.Hub
	tf   *transport.OdomTransformer
	sink *recordingSink
}

func newFixture(t *testing.T, cfg config.Config, opts ...Option) *fixture {
	t.Helper()
	hub := transport.NewHub(cfg.VMax, cfg.FootprintPad, cfg.GoalDistThreshold)
	tf := transport.NewOdomTransformer()
	sink := &recordingSink{}
	svc, err := New(cfg, hub, tf, sink, golog.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return &fixture{svc: svc, hub: hub, tf: tf, sink: sink}
}

// feed installs a fresh consistent input set: robot pose, odometry, and map.
func (f *fixture) feed(robot spatialmath.Pose, twist spatialmath.Twist, grid *obstacle.OccupancyGrid) {
	f.tf.SetPose(robot)
	f.hub.SetOdometry(twist)
	f.hub.SetMap(grid)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.VSamples = 0
	hub := transport.NewHub(cfg.VMax, cfg.FootprintPad, cfg.GoalDistThreshold)
	_, err := New(cfg, hub, transport.NewOdomTransformer(), &recordingSink{}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGateHoldsWithoutInputs(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	// nothing fed at all: hold still, one command per tick
	f.svc.tick(ctx)
	test.That(t, f.sink.count(), test.ShouldEqual, 1)
	test.That(t, f.sink.last(), test.ShouldResemble, spatialmath.Twist{})

	// goal but no odometry/map
	f.hub.SetGoal(spatialmath.NewPose(5, 0, 0))
	f.svc.tick(ctx)
	test.That(t, f.sink.count(), test.ShouldEqual, 2)
	test.That(t, f.sink.last(), test.ShouldResemble, spatialmath.Twist{})
}

func TestGateHoldsOnStaleOdometry(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.hub.SetGoal(spatialmath.NewPose(5, 0, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)
	test.That(t, f.sink.last().Linear, test.ShouldBeGreaterThan, 0)

	// age the odometry past the watchdog without refreshing it
	for i := 0; i < testConfig().StaleTicks+2; i++ {
		f.hub.SetMap(emptyGrid())
		f.svc.tick(ctx)
	}
	test.That(t, f.sink.last(), test.ShouldResemble, spatialmath.Twist{})
}

func TestFirstTickAcceleratesStraight(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.hub.SetGoal(spatialmath.NewPose(5, 0, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)

	cmd := f.sink.last()
	test.That(t, cmd.Linear, test.ShouldAlmostEqual, 0.125, 1e-9)
	test.That(t, cmd.Angular, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateDrive)
}

func TestInPlaceTurnTowardLateralGoal(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	// goal directly to the left: bearing pi/2 exceeds the turn threshold
	f.hub.SetGoal(spatialmath.NewPose(0, 1, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)

	cmd := f.sink.last()
	test.That(t, cmd.Linear, test.ShouldEqual, 0)
	test.That(t, cmd.Angular, test.ShouldBeGreaterThanOrEqualTo, testConfig().InPlaceWMin)
	test.That(t, cmd.Angular, test.ShouldBeLessThanOrEqualTo, testConfig().InPlaceWMax)
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateInPlaceTurn)
}

func TestFinalOrientThenDone(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	// already at the goal position, 0.2 rad of final yaw left
	f.hub.SetGoal(spatialmath.NewPose(0, 0, 0.2))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)

	cmd := f.sink.last()
	test.That(t, cmd.Linear, test.ShouldEqual, 0)
	test.That(t, cmd.Angular, test.ShouldBeGreaterThanOrEqualTo, testConfig().InPlaceWMin)
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateFinalOrient)
	test.That(t, f.sink.doneCount(), test.ShouldEqual, 0)

	// once the yaw error closes, the mission completes
	f.tf.SetPose(spatialmath.NewPose(0, 0, 0.15))
	f.hub.SetOdometry(spatialmath.Twist{})
	f.hub.SetMap(emptyGrid())
	f.svc.tick(ctx)

	test.That(t, f.sink.last(), test.ShouldResemble, spatialmath.Twist{})
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateDone)
	test.That(t, f.sink.doneCount(), test.ShouldEqual, 1)

	// the flag fires once; later ticks keep holding still
	f.hub.SetOdometry(spatialmath.Twist{})
	f.hub.SetMap(emptyGrid())
	f.svc.tick(ctx)
	test.That(t, f.sink.doneCount(), test.ShouldEqual, 1)
	test.That(t, f.sink.last(), test.ShouldResemble, spatialmath.Twist{})
}

func TestNewGoalRestartsAfterDone(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.hub.SetGoal(spatialmath.NewPose(0, 0, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateDone)

	f.hub.SetGoal(spatialmath.NewPose(5, 0, 0))
	f.hub.SetOdometry(spatialmath.Twist{})
	f.hub.SetMap(emptyGrid())
	f.svc.tick(ctx)
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateDrive)
	test.That(t, f.sink.last().Linear, test.ShouldBeGreaterThan, 0)
}

func TestStopPointDwell(t *testing.T) {
	cfg := testConfig()
	cfg.StopPoints = []config.Waypoint{{X: 0, Y: 0, Action: config.ActionStop}}

	var stoppedAt []config.Waypoint
	f := newFixture(t, cfg, WithStopCallback(func(wp config.Waypoint) {
		stoppedAt = append(stoppedAt, wp)
	}))
	ctx := context.Background()

	f.hub.SetGoal(spatialmath.NewPose(5, 0, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)

	test.That(t, f.sink.last(), test.ShouldResemble, spatialmath.Twist{})
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateStopDwell)
	test.That(t, len(stoppedAt), test.ShouldEqual, 1)

	// the stop point is consumed; the next tick drives on
	f.hub.SetOdometry(spatialmath.Twist{})
	f.hub.SetMap(emptyGrid())
	f.svc.tick(ctx)
	test.That(t, f.svc.Status().State, test.ShouldEqual, StateDrive)
	test.That(t, f.sink.last().Linear, test.ShouldBeGreaterThan, 0)
}

func TestDriveWaypointPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.StopPoints = []config.Waypoint{{X: 0, Y: 0, Action: config.ActionDrive}}
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.hub.SetGoal(spatialmath.NewPose(5, 0, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)

	test.That(t, f.svc.Status().State, test.ShouldEqual, StateDrive)
	test.That(t, f.sink.last().Linear, test.ShouldBeGreaterThan, 0)
}

func TestReplanInstallsReferencePath(t *testing.T) {
	cfg := testConfig()
	cfg.UsePathCost = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.hub.SetGoal(spatialmath.NewPose(1.5, 0, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)

	snap := f.hub.Snapshot()
	test.That(t, snap.HasPath, test.ShouldBeTrue)
	test.That(t, snap.PathEnd.X, test.ShouldAlmostEqual, 1.5, 0.1)
	test.That(t, snap.PathEnd.Y, test.ShouldAlmostEqual, 0, 0.1)
	test.That(t, f.sink.last().Linear, test.ShouldBeGreaterThan, 0)
}

func TestTickLoopRunsOnMockClock(t *testing.T) {
	mock := clock.NewMock()
	f := newFixture(t, testConfig(), WithClock(mock))

	f.hub.SetGoal(spatialmath.NewPose(5, 0, 0))
	f.feed(spatialmath.NewPose(0, 0, 0), spatialmath.Twist{}, emptyGrid())

	f.svc.Start()
	defer f.svc.Stop()

	for i := 0; i < 100 && f.sink.count() == 0; i++ {
		mock.Add(50 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	test.That(t, f.sink.count(), test.ShouldBeGreaterThanOrEqualTo, 1)
}

func TestGoalBearingMath(t *testing.T) {
	// robot facing +y, goal ahead of it in world coordinates: no turn needed
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.hub.SetGoal(spatialmath.NewPose(0, 5, math.Pi/2))
	f.feed(spatialmath.NewPose(0, 0, math.Pi/2), spatialmath.Twist{}, emptyGrid())
	f.svc.tick(ctx)

	test.That(t, f.svc.Status().State, test.ShouldEqual, StateDrive)
	cmd := f.sink.last()
	test.That(t, cmd.Linear, test.ShouldBeGreaterThan, 0)
}
