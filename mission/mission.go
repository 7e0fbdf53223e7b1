// Package mission runs the per-tick controller that sequences global-path
// tracking, in-place turning, stop-point dwells, final orientation, and
// mission completion around the DWA planner.
package mission

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/navloop/astar"
	"github.com/viam-labs/navloop/collision"
	"github.com/viam-labs/navloop/config"
	"github.com/viam-labs/navloop/dwa"
	"github.com/viam-labs/navloop/obstacle"
	"github.com/viam-labs/navloop/spatialmath"
	"github.com/viam-labs/navloop/transport"
)

// State is the mission phase reported by Status.
type State uint8

// The mission phases.
const (
	StateDrive State = iota
	StateInPlaceTurn
	StateStopDwell
	StateFinalOrient
	StateDone
)

func (s State) String() string {
	switch s {
	case StateDrive:
		return "drive"
	case StateInPlaceTurn:
		return "in_place_turn"
	case StateStopDwell:
		return "stop_dwell"
	case StateFinalOrient:
		return "final_orient"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Status is a read-only view of the controller for introspection.
type Status struct {
	State       State
	LastCommand spatialmath.Twist
	Reached     bool
	Tick        int64
}

// StopCallback fires when the robot settles on a stop-point, before the
// dwell begins.
type StopCallback func(wp config.Waypoint)

// Option configures a Service.
type Option func(*Service)

// WithClock injects the clock driving the tick loop and dwells.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clk = clk }
}

// WithStopCallback registers the stop-point event sink.
func WithStopCallback(cb StopCallback) Option {
	return func(s *Service) { s.onStopped = cb }
}

// Service owns the control tick. All planning state beyond short-lived
// freshness counters comes from the input snapshots.
type Service struct {
	cfg     config.Config
	hub     *transport.Hub
	tf      transport.Transformer
	sink    transport.CommandSink
	logger  golog.Logger
	clk     clock.Clock
	planner *dwa.Planner
	grid    *astar.Planner

	cancelCtx               context.Context
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup

	mu           sync.Mutex
	state        State
	lastCmd      spatialmath.Twist
	reached      bool
	completed    bool
	lastGoalSeq  int64
	lastWarnTick int64
	tickCount    int64
	stopIdx      int
	onStopped    StopCallback
}

// New validates the configuration and assembles the controller. Invalid
// configuration refuses to start.
func New(
	cfg config.Config,
	hub *transport.Hub,
	tf transport.Transformer,
	sink transport.CommandSink,
	logger golog.Logger,
	opts ...Option,
) (*Service, error) {
	if err := cfg.Validate("mission"); err != nil {
		return nil, err
	}
	planner, err := dwa.NewPlanner(cfg.DWA(), logger)
	if err != nil {
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:          cfg,
		hub:          hub,
		tf:           tf,
		sink:         sink,
		logger:       logger,
		clk:          clock.New(),
		planner:      planner,
		grid:         astar.NewPlanner(logger),
		cancelCtx:    cancelCtx,
		cancel:       cancel,
		lastWarnTick: -int64(cfg.ControlHz),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the tick loop at the configured control rate.
func (s *Service) Start() {
	period := time.Duration(float64(time.Second) / s.cfg.ControlHz)
	ticker := s.clk.Ticker(period)
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.cancelCtx.Done():
				return
			case <-ticker.C:
				s.tick(s.cancelCtx)
			}
		}
	}, s.activeBackgroundWorkers.Done)
}

// Stop halts the tick loop and waits for it to exit.
func (s *Service) Stop() {
	s.cancel()
	s.activeBackgroundWorkers.Wait()
}

// Status returns the current phase and last emitted command.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, LastCommand: s.lastCmd, Reached: s.reached, Tick: s.tickCount}
}

// Planner exposes the DWA planner for sample introspection.
func (s *Service) Planner() *dwa.Planner {
	return s.planner
}

// tick runs one control cycle: gate inputs, transform the goal, then pick
// between stop dwell, in-place turn, DWA drive, final orient, and done.
// Exactly one command is published per tick.
func (s *Service) tick(ctx context.Context) {
	tickNo := s.hub.AdvanceTick()
	snap := s.hub.Snapshot()

	s.mu.Lock()
	if snap.GoalSeq != s.lastGoalSeq {
		s.lastGoalSeq = snap.GoalSeq
		s.reached = false
		s.completed = false
		s.stopIdx = 0
		s.state = StateDrive
	}
	completed := s.completed
	s.tickCount = tickNo
	s.mu.Unlock()

	if completed {
		s.publish(tickNo, spatialmath.Twist{}, StateDone)
		return
	}

	worldToBody, gateErr := s.gate(ctx, &snap)
	if gateErr != nil {
		s.warnThrottled(tickNo, "holding still", "reason", gateErr)
		s.publish(tickNo, spatialmath.Twist{}, s.Status().State)
		return
	}

	goalPt := worldToBody.TransformPoint(snap.Goal.Point())
	goalDist := goalPt.Norm()
	goalBearing := math.Atan2(goalPt.Y, goalPt.X)
	goalYaw := spatialmath.WrapAngle(snap.Goal.Theta + worldToBody.Theta)

	footprint := s.materializeFootprint(&snap)
	obstacles := s.extractObstacles(&snap)
	simDt := s.cfg.PredictTime / float64(s.cfg.SimSteps)

	if s.dwellAtStopPoint(ctx, tickNo, worldToBody) {
		return
	}

	s.mu.Lock()
	reached := s.reached
	s.mu.Unlock()

	if goalDist > snap.GoalDistThreshold && !reached {
		if math.Abs(goalBearing) > s.cfg.AngleToTurn {
			w := s.inPlaceRate(goalBearing)
			if turnIsClear(footprint, obstacles, dwa.RolloutTurn(w, s.cfg.SimSteps, simDt)) {
				s.publish(tickNo, spatialmath.Twist{Angular: w}, StateInPlaceTurn)
				return
			}
		}

		s.maybeReplanPath(tickNo, &snap, worldToBody)

		dec, err := s.planner.Plan(dwa.PlanInput{
			Current:        snap.Twist,
			TargetVelocity: snap.TargetVelocity,
			Goal:           goalPt,
			PathStart:      worldToBody.TransformPoint(snap.PathStart.Point()),
			PathEnd:        worldToBody.TransformPoint(snap.PathEnd.Point()),
			HasPath:        snap.HasPath,
			Obstacles:      obstacles,
			Footprint:      footprint,
		})
		if err != nil {
			s.errorThrottled(tickNo, "planning failed, holding still", "error", err)
			s.publish(tickNo, spatialmath.Twist{}, StateDrive)
			return
		}
		s.publish(tickNo, dec.Command, StateDrive)
		return
	}

	s.mu.Lock()
	s.reached = true
	s.mu.Unlock()

	if math.Abs(goalYaw) > s.cfg.FinalYawThreshold {
		s.publish(tickNo, spatialmath.Twist{Angular: s.inPlaceRate(goalYaw)}, StateFinalOrient)
		return
	}

	s.publish(tickNo, spatialmath.Twist{}, StateDone)
	if err := s.sink.SendDone(); err != nil {
		s.logger.Errorw("cannot publish finish flag", "error", err)
	}
	s.mu.Lock()
	s.completed = true
	s.reached = false
	s.mu.Unlock()
	s.waitFor(ctx, s.cfg.SleepAfterDone)
}

// gate checks input presence and freshness; a failure means the tick emits
// zeros and leaves state unchanged.
func (s *Service) gate(ctx context.Context, snap *transport.Snapshot) (spatialmath.Pose, error) {
	if !snap.HasGoal {
		return spatialmath.Pose{}, errors.New("no goal")
	}
	if s.cfg.UseFootprint && len(snap.Footprint) == 0 {
		return spatialmath.Pose{}, errors.New("no footprint")
	}
	stale := int64(s.cfg.StaleTicks)
	if !snap.HasOdom || snap.OdomAge > stale {
		return spatialmath.Pose{}, errors.Errorf("odometry missing or stale for %d ticks", snap.OdomAge)
	}
	if s.cfg.UseScanAsInput {
		if snap.Scan == nil || snap.ScanAge > stale {
			return spatialmath.Pose{}, errors.New("scan missing or stale")
		}
	} else if snap.Grid == nil || snap.GridAge > stale {
		return spatialmath.Pose{}, errors.New("local map missing or stale")
	}
	// in scan mode there is no grid to replan a missing reference path from
	if s.cfg.UsePathCost && s.cfg.UseScanAsInput && !snap.HasPath {
		return spatialmath.Pose{}, errors.New("no reference path")
	}
	worldToBody, err := s.tf.Pose(ctx, transport.FrameWorld, transport.FrameBody)
	if err != nil {
		// a failed frame lookup makes this tick's inputs stale
		return spatialmath.Pose{}, errors.Wrap(err, "transform lookup failed")
	}
	return worldToBody, nil
}

func (s *Service) materializeFootprint(snap *transport.Snapshot) *collision.Footprint {
	if s.cfg.UseFootprint && len(snap.Footprint) > 0 {
		return collision.NewFootprint(snap.Footprint)
	}
	return collision.NewCircularFootprint(s.cfg.RobotRadius + s.cfg.FootprintPad)
}

func (s *Service) extractObstacles(snap *transport.Snapshot) []r2.Point {
	if s.cfg.UseScanAsInput {
		return obstacle.FromScan(snap.Scan, s.cfg.AngleRes)
	}
	return obstacle.FromGrid(snap.Grid, s.cfg.AngleRes)
}

// inPlaceRate clamps the bearing to the in-place band and floors it away
// from zero in its own sign.
func (s *Service) inPlaceRate(bearing float64) float64 {
	w := bearing
	if math.Abs(w) > s.cfg.InPlaceWMax {
		w = math.Copysign(s.cfg.InPlaceWMax, w)
	}
	if math.Abs(w) < s.cfg.InPlaceWMin {
		w = math.Copysign(s.cfg.InPlaceWMin, w)
	}
	return w
}

func turnIsClear(fp *collision.Footprint, obstacles []r2.Point, traj dwa.Trajectory) bool {
	for _, st := range traj {
		for _, ob := range obstacles {
			if fp.Contains(st.Pose, ob) {
				return false
			}
		}
	}
	return true
}

// dwellAtStopPoint consumes the stop-point list in order. When the robot is
// within StopEps of the next waypoint in the list, that waypoint is consumed
// and, if it is stop-tagged, the robot holds still for the configured dwell.
// Drive-tagged waypoints are passed through silently; a later waypoint is
// not checked until the ones before it have been consumed.
func (s *Service) dwellAtStopPoint(ctx context.Context, tickNo int64, worldToBody spatialmath.Pose) bool {
	s.mu.Lock()
	idx := s.stopIdx
	s.mu.Unlock()
	if idx >= len(s.cfg.StopPoints) {
		return false
	}
	wp := s.cfg.StopPoints[idx]
	dist := worldToBody.TransformPoint(r2.Point{X: wp.X, Y: wp.Y}).Norm()
	if dist > s.cfg.StopEps {
		return false
	}

	s.mu.Lock()
	s.stopIdx = idx + 1
	s.mu.Unlock()

	if wp.Action != config.ActionStop {
		return false
	}

	s.publish(tickNo, spatialmath.Twist{}, StateStopDwell)
	if s.onStopped != nil {
		s.onStopped(wp)
	}
	s.waitFor(ctx, s.cfg.StopHold)
	return true
}

// maybeReplanPath reruns the grid planner when path tracking is enabled but
// the reference path is missing or stale and a fresh local map is available.
// The replanned path is installed through the hub so its endpoints feed the
// path cost on this and subsequent ticks.
func (s *Service) maybeReplanPath(tickNo int64, snap *transport.Snapshot, worldToBody spatialmath.Pose) {
	if !s.cfg.UsePathCost {
		return
	}
	if snap.HasPath && snap.PathAge <= int64(s.cfg.StaleTicks) {
		return
	}
	grid := snap.Grid
	if grid == nil || grid.Resolution <= 0 || snap.GridAge > int64(s.cfg.StaleTicks) {
		return
	}

	canPass := func(c astar.Cell) bool {
		return grid.At(c.X, c.Y) != obstacle.CellOccupied
	}
	start := cellForPoint(grid, r2.Point{})
	goalPt := worldToBody.TransformPoint(snap.Goal.Point())
	end := cellForPoint(grid, goalPt)

	cells := s.grid.Find(grid.Width, grid.Height, canPass, start, end, false)
	if cells == nil {
		s.errorThrottled(tickNo, "global replan found no path", "start", start, "end", end)
		return
	}

	bodyToWorld := worldToBody.Invert()
	path := make([]spatialmath.Pose, 0, len(cells)+1)
	path = append(path, poseForPoint(bodyToWorld, r2.Point{}))
	for _, c := range cells {
		pt := r2.Point{
			X: grid.OriginX + (float64(c.X)+0.5)*grid.Resolution,
			Y: grid.OriginY + (float64(c.Y)+0.5)*grid.Resolution,
		}
		path = append(path, poseForPoint(bodyToWorld, pt))
	}
	s.hub.SetPath(path)
	snap.HasPath = true
	snap.PathStart = path[0]
	snap.PathEnd = path[len(path)-1]
}

func (s *Service) publish(tickNo int64, cmd spatialmath.Twist, state State) {
	if err := s.sink.SendVelocity(cmd); err != nil {
		s.errorThrottled(tickNo, "cannot publish velocity command", "error", err)
	}
	s.mu.Lock()
	s.lastCmd = cmd
	s.state = state
	s.mu.Unlock()
}

func (s *Service) warnThrottled(tickNo int64, msg string, keysAndValues ...interface{}) {
	if !s.shouldLog(tickNo) {
		return
	}
	s.logger.Warnw(msg, keysAndValues...)
}

func (s *Service) errorThrottled(tickNo int64, msg string, keysAndValues ...interface{}) {
	if !s.shouldLog(tickNo) {
		return
	}
	s.logger.Errorw(msg, keysAndValues...)
}

// shouldLog rate-limits repeating tick faults to roughly once per second.
func (s *Service) shouldLog(tickNo int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tickNo-s.lastWarnTick < int64(s.cfg.ControlHz) {
		return false
	}
	s.lastWarnTick = tickNo
	return true
}

// waitFor sleeps on the service clock, bailing early on shutdown.
func (s *Service) waitFor(ctx context.Context, seconds float64) {
	if seconds <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-s.clk.After(time.Duration(seconds * float64(time.Second))):
	}
}

func cellForPoint(grid *obstacle.OccupancyGrid, pt r2.Point) astar.Cell {
	x := int(math.Floor((pt.X - grid.OriginX) / grid.Resolution))
	y := int(math.Floor((pt.Y - grid.OriginY) / grid.Resolution))
	if x < 0 {
		x = 0
	} else if x >= grid.Width {
		x = grid.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= grid.Height {
		y = grid.Height - 1
	}
	return astar.Cell{X: x, Y: y}
}

func poseForPoint(bodyToWorld spatialmath.Pose, pt r2.Point) spatialmath.Pose {
	world := bodyToWorld.TransformPoint(pt)
	return spatialmath.Pose{X: world.X, Y: world.Y, Theta: bodyToWorld.Theta}
}
