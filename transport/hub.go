// Package transport normalizes the host middleware's message flavor into
// latest-value snapshots the control tick consumes atomically. Ingress may
// arrive on any goroutine; the tick reads one consistent copy.
package transport

import (
	"context"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/viam-labs/navloop/collision"
	"github.com/viam-labs/navloop/obstacle"
	"github.com/viam-labs/navloop/spatialmath"
)

// Frame names used by the built-in transformer.
const (
	FrameWorld = "world"
	FrameBody  = "body"
)

// ErrUnknownFrame is returned by transformers for frame pairs they cannot
// relate.
var ErrUnknownFrame = errors.New("unknown frame pair")

// Transformer resolves the pose of frame src expressed in frame dst. A
// lookup failure makes the tick treat its inputs as stale.
type Transformer interface {
	Pose(ctx context.Context, src, dst string) (spatialmath.Pose, error)
}

// CommandSink receives the planner's outputs: exactly one velocity command
// per tick and a done flag on mission completion.
type CommandSink interface {
	SendVelocity(cmd spatialmath.Twist) error
	SendDone() error
}

// Snapshot is a consistent copy of every latest input, taken at the top of a
// tick. Ages are in ticks since the input was last received; fresh inputs
// have age zero.
type Snapshot struct {
	Goal    spatialmath.Pose
	HasGoal bool
	GoalSeq int64

	Twist   spatialmath.Twist
	HasOdom bool
	OdomAge int64

	Scan    *obstacle.LaserScan
	ScanAge int64

	Grid    *obstacle.OccupancyGrid
	GridAge int64

	Footprint []r2.Point
	HasPath   bool
	PathStart spatialmath.Pose
	PathEnd   spatialmath.Pose
	PathAge   int64

	TargetVelocity    float64
	GoalDistThreshold float64
}

// Hub owns the latest-value boxes. Setters may be called concurrently with
// the tick; odometry, scan, map, and path are stamped with the tick counter
// current at receipt.
type Hub struct {
	vMax float64
	pad  float64

	tick atomic.Int64

	mu                sync.Mutex
	goal              spatialmath.Pose
	hasGoal           bool
	goalSeq           int64
	twist             spatialmath.Twist
	odomTick          int64
	hasOdom           bool
	scan              *obstacle.LaserScan
	scanTick          int64
	grid              *obstacle.OccupancyGrid
	gridTick          int64
	footprint         []r2.Point
	path              []spatialmath.Pose
	pathTick          int64
	targetVelocity    float64
	goalDistThreshold float64
}

// NewHub builds a hub. vMax caps target-velocity overrides; pad is applied
// outward to footprint vertices on receipt. The default goal-distance
// threshold and target velocity are distThreshold and vMax.
func NewHub(vMax, pad, distThreshold float64) *Hub {
	return &Hub{
		vMax:              vMax,
		pad:               pad,
		targetVelocity:    vMax,
		goalDistThreshold: distThreshold,
	}
}

// AdvanceTick moves the freshness clock forward; the mission loop calls it
// once at the top of every tick.
func (h *Hub) AdvanceTick() int64 {
	return h.tick.Inc()
}

// SetGoal installs a new mission goal, superseding any in flight.
func (h *Hub) SetGoal(goal spatialmath.Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.goal = goal
	h.hasGoal = true
	h.goalSeq++
}

// SetOdometry records the current command-frame twist.
func (h *Hub) SetOdometry(twist spatialmath.Twist) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.twist = twist
	h.odomTick = h.tick.Load()
	h.hasOdom = true
}

// SetScan installs the latest range scan. The hub takes ownership.
func (h *Hub) SetScan(scan *obstacle.LaserScan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scan = scan
	h.scanTick = h.tick.Load()
}

// SetMap installs the latest local occupancy grid. The hub takes ownership.
func (h *Hub) SetMap(grid *obstacle.OccupancyGrid) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grid = grid
	h.gridTick = h.tick.Load()
}

// SetFootprint installs a polygonal footprint, padding each vertex outward
// componentwise on receipt.
func (h *Hub) SetFootprint(verts []r2.Point) {
	padded := collision.PadVertices(verts, h.pad)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.footprint = padded
}

// SetPath installs the reference path; only its endpoints feed the path
// cost.
func (h *Hub) SetPath(path []spatialmath.Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
	h.pathTick = h.tick.Load()
}

// SetTargetVelocity caps the window's upper linear bound, itself clamped to
// the actuator limit.
func (h *Hub) SetTargetVelocity(v float64) {
	if v > h.vMax {
		v = h.vMax
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.targetVelocity = v
}

// SetGoalDistThreshold overrides the arrival threshold at runtime.
func (h *Hub) SetGoalDistThreshold(d float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.goalDistThreshold = d
}

// Snapshot returns a consistent copy of every latest input with ages
// relative to the current tick. Odometry that has never arrived reports an
// arbitrarily old age.
func (h *Hub) Snapshot() Snapshot {
	now := h.tick.Load()
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := Snapshot{
		Goal:              h.goal,
		HasGoal:           h.hasGoal,
		GoalSeq:           h.goalSeq,
		Twist:             h.twist,
		HasOdom:           h.hasOdom,
		OdomAge:           now - h.odomTick,
		Scan:              h.scan,
		ScanAge:           now - h.scanTick,
		Grid:              h.grid,
		GridAge:           now - h.gridTick,
		Footprint:         h.footprint,
		TargetVelocity:    h.targetVelocity,
		GoalDistThreshold: h.goalDistThreshold,
	}
	if !h.hasOdom {
		snap.OdomAge = now + 1
	}
	if len(h.path) > 0 {
		snap.HasPath = true
		snap.PathStart = h.path[0]
		snap.PathEnd = h.path[len(h.path)-1]
		snap.PathAge = now - h.pathTick
	}
	return snap
}
