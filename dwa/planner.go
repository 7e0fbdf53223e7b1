// Package dwa implements a Dynamic Window Approach local planner: each tick
// it samples (v, w) commands from the window reachable under the
// acceleration limits, rolls each forward with a unicycle model, scores the
// rollouts against obstacles, goal, speed, and the reference path edge, and
// picks the minimum weighted cost.
package dwa

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/viam-labs/navloop/collision"
	"github.com/viam-labs/navloop/spatialmath"
)

// ErrNoAdmissibleTrajectory is returned when every sampled trajectory
// collides; the caller should hold still and retry next tick.
var ErrNoAdmissibleTrajectory = errors.New("no admissible trajectory in dynamic window")

// machEps floors the sampling resolutions so one-sample axes stay
// well-defined.
var machEps = math.Nextafter(1, 2) - 1

// normEps pads the normalization denominator when all samples share a cost.
const normEps = 1e-10

// slowGoalAngle activates the prefer-slowing cost term for one tick when the
// goal bearing exceeds it.
const slowGoalAngle = math.Pi / 4

// Config holds the planner's kinodynamic limits, sampling density, and cost
// weights.
type Config struct {
	SimPeriod   float64 // control period, the window's reachability horizon
	PredictTime float64 // rollout horizon
	SimSteps    int     // states per rollout

	VSamples int // linear velocity samples across the window
	WSamples int // angular velocity samples across the window

	VMin        float64
	VMax        float64
	WMax        float64
	AccelMax    float64
	AngAccelMax float64

	SlowVelocity float64 // below this, non-zero w is floored to WFloor
	WFloor       float64

	ObstacleRange float64

	WeightObstacle float64
	WeightGoal     float64
	WeightSpeed    float64
	WeightPath     float64

	UsePathCost bool
}

// Window is the admissible command rectangle for one tick.
type Window struct {
	VMin, VMax float64
	WMin, WMax float64
}

// ComputeWindow intersects the commands reachable from cur within one
// control period with the actuator limits and the external target cap. A
// target below the window's lower linear bound (the larger of the
// deceleration bound and the actuator minimum) collapses the window onto
// that lower bound.
func (cfg *Config) ComputeWindow(cur spatialmath.Twist, targetV float64) Window {
	w := Window{
		VMin: math.Max(cur.Linear-cfg.AccelMax*cfg.SimPeriod, cfg.VMin),
		VMax: math.Min(cur.Linear+cfg.AccelMax*cfg.SimPeriod, targetV),
		WMin: math.Max(cur.Angular-cfg.AngAccelMax*cfg.SimPeriod, -cfg.WMax),
		WMax: math.Min(cur.Angular+cfg.AngAccelMax*cfg.SimPeriod, cfg.WMax),
	}
	if w.VMax < w.VMin {
		w.VMax = w.VMin
	}
	if w.WMax < w.WMin {
		w.WMax = w.WMin
	}
	return w
}

// CostTuple carries the per-term costs of one sample. Obstacle is +Inf for a
// colliding rollout; Total is assigned after normalization.
type CostTuple struct {
	Obstacle float64
	Goal     float64
	Speed    float64
	Path     float64
	Total    float64
}

// Sample is one evaluated (v, w) candidate, retained per tick for
// introspection and visualization.
type Sample struct {
	V, W     float64
	Cost     CostTuple
	Feasible bool
}

// PlanInput is the snapshot a tick plans against. Goal and path endpoints
// are in the robot body frame; obstacles live only for this tick.
type PlanInput struct {
	Current        spatialmath.Twist
	TargetVelocity float64
	Goal           r2.Point
	PathStart      r2.Point
	PathEnd        r2.Point
	HasPath        bool
	Obstacles      []r2.Point
	Footprint      *collision.Footprint
}

// Decision is the planner's per-tick output.
type Decision struct {
	Command    spatialmath.Twist
	Trajectory Trajectory
	Window     Window
}

// Planner evaluates dynamic-window samples. It owns configuration and the
// most recent sample set; all other inputs arrive fresh each tick.
type Planner struct {
	cfg     Config
	logger  golog.Logger
	samples []Sample
}

// NewPlanner validates the sampling configuration and returns a planner.
func NewPlanner(cfg Config, logger golog.Logger) (*Planner, error) {
	if cfg.VSamples <= 0 || cfg.WSamples <= 0 {
		return nil, errors.Errorf("sample counts must be positive, got %d x %d", cfg.VSamples, cfg.WSamples)
	}
	if cfg.SimSteps <= 0 || cfg.PredictTime <= 0 || cfg.SimPeriod <= 0 {
		return nil, errors.New("horizon parameters must be positive")
	}
	if cfg.AccelMax < 0 || cfg.AngAccelMax < 0 || cfg.VMax < cfg.VMin || cfg.WMax < 0 {
		return nil, errors.New("kinodynamic limits out of range")
	}
	return &Planner{cfg: cfg, logger: logger}, nil
}

// Samples returns the sample set evaluated by the latest Plan call. The
// slice is reused across ticks; callers must not retain it.
func (p *Planner) Samples() []Sample {
	return p.samples
}

// Plan evaluates the dynamic window against the input snapshot and returns
// the best command with its rollout. When no sample is feasible it returns
// the zero-zero trajectory and ErrNoAdmissibleTrajectory.
func (p *Planner) Plan(in PlanInput) (Decision, error) {
	cfg := &p.cfg
	win := cfg.ComputeWindow(in.Current, in.TargetVelocity)
	dt := cfg.PredictTime / float64(cfg.SimSteps)

	// prefer slowing for this tick only, when the goal sits far off-axis
	preferSlow := math.Abs(math.Atan2(in.Goal.Y, in.Goal.X)) > slowGoalAngle

	vRes := math.Max(resolution(win.VMin, win.VMax, cfg.VSamples), machEps)
	wRes := math.Max(resolution(win.WMin, win.WMax, cfg.WSamples), machEps)

	p.samples = p.samples[:0]
	trajs := make([]Trajectory, 0, cfg.VSamples*(cfg.WSamples+1))

	addSample := func(v, w float64) {
		traj := Rollout(v, w, cfg.SimSteps, dt)
		cost, feasible := p.evaluate(traj, v, win, in, preferSlow)
		p.samples = append(p.samples, Sample{V: v, W: w, Cost: cost, Feasible: feasible})
		trajs = append(trajs, traj)
	}

	for i := 0; i < cfg.VSamples; i++ {
		v := win.VMin + float64(i)*vRes
		for j := 0; j < cfg.WSamples; j++ {
			w := win.WMin + float64(j)*wRes
			// fruitless near-zero turning at crawl speeds gets floored
			// outward to the minimum useful rate
			if v < cfg.SlowVelocity && w != 0 {
				w = math.Copysign(math.Max(math.Abs(w), cfg.WFloor), w)
			}
			addSample(v, w)
		}
		if win.WMin < 0 && win.WMax > 0 {
			addSample(v, 0)
		}
	}

	p.normalize(preferSlow)

	best := -1
	for i := range p.samples {
		if !p.samples[i].Feasible {
			continue
		}
		if best < 0 || p.samples[i].Cost.Total < p.samples[best].Cost.Total {
			best = i
		}
	}
	if best < 0 {
		p.logger.Debugw("every sample collides", "samples", len(p.samples), "obstacles", len(in.Obstacles))
		return Decision{
			Command:    spatialmath.Twist{},
			Trajectory: Rollout(0, 0, cfg.SimSteps, dt),
			Window:     win,
		}, ErrNoAdmissibleTrajectory
	}
	return Decision{
		Command:    spatialmath.Twist{Linear: p.samples[best].V, Angular: p.samples[best].W},
		Trajectory: trajs[best],
		Window:     win,
	}, nil
}

// evaluate scores one rollout. The obstacle term is range minus the closest
// clearance over every state/point pair, +Inf on contact.
func (p *Planner) evaluate(traj Trajectory, v float64, win Window, in PlanInput, preferSlow bool) (CostTuple, bool) {
	cfg := &p.cfg
	var cost CostTuple

	minDist := cfg.ObstacleRange
	for _, st := range traj {
		for _, ob := range in.Obstacles {
			if in.Footprint.Contains(st.Pose, ob) {
				cost.Obstacle = math.Inf(1)
				return cost, false
			}
			if d := in.Footprint.Distance(st.Pose, ob); d < minDist {
				minDist = d
			}
		}
	}
	cost.Obstacle = cfg.ObstacleRange - minDist

	end := traj.Endpoint()
	cost.Goal = end.Sub(in.Goal).Norm()

	if preferSlow {
		cost.Speed = win.VMax - v
	}
	if cfg.UsePathCost && in.HasPath {
		cost.Path = spatialmath.DistToLine(end, in.PathStart, in.PathEnd)
	}
	return cost, true
}

// normalize min-max scales each enabled term across the feasible samples and
// assigns weighted totals. Infeasible samples are excluded.
func (p *Planner) normalize(preferSlow bool) {
	cfg := &p.cfg

	terms := []struct {
		get     func(*CostTuple) *float64
		weight  float64
		enabled bool
	}{
		{func(c *CostTuple) *float64 { return &c.Obstacle }, cfg.WeightObstacle, true},
		{func(c *CostTuple) *float64 { return &c.Goal }, cfg.WeightGoal, true},
		{func(c *CostTuple) *float64 { return &c.Speed }, cfg.WeightSpeed, preferSlow},
		{func(c *CostTuple) *float64 { return &c.Path }, cfg.WeightPath, cfg.UsePathCost},
	}

	var scratch []float64
	for _, term := range terms {
		if !term.enabled {
			continue
		}
		scratch = scratch[:0]
		for i := range p.samples {
			if p.samples[i].Feasible {
				scratch = append(scratch, *term.get(&p.samples[i].Cost))
			}
		}
		if len(scratch) == 0 {
			continue
		}
		lo, hi := floats.Min(scratch), floats.Max(scratch)
		span := hi - lo + normEps
		for i := range p.samples {
			if !p.samples[i].Feasible {
				continue
			}
			val := term.get(&p.samples[i].Cost)
			*val = (*val - lo) / span
			p.samples[i].Cost.Total += term.weight * *val
		}
	}
}

func resolution(lo, hi float64, samples int) float64 {
	if samples <= 1 {
		return 0
	}
	return (hi - lo) / float64(samples-1)
}
