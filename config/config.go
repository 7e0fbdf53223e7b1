// Package config defines the planner configuration, its defaults for a
// ~0.5 m wheelbase indoor robot, and the JSON5 file / attribute-map loaders.
package config

import (
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/navloop/dwa"
)

// Waypoint actions.
const (
	ActionDrive = "drive"
	ActionStop  = "stop"
)

// Waypoint is a mission path point, optionally tagged as a stop-point where
// the robot dwells.
type Waypoint struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Action string  `json:"action,omitempty"`
}

// Config collects every recognized option of the planner core.
type Config struct {
	ControlHz float64 `json:"control_hz"`

	SimPeriod   float64 `json:"sim_period"`
	PredictTime float64 `json:"predict_time"`
	SimSteps    int     `json:"sim_steps"`
	VSamples    int     `json:"v_samples"`
	WSamples    int     `json:"w_samples"`

	VMin        float64 `json:"v_min"`
	VMax        float64 `json:"v_max"`
	WMax        float64 `json:"w_max"`
	AccelMax    float64 `json:"accel_max"`
	AngAccelMax float64 `json:"ang_accel_max"`

	SlowVelocity float64 `json:"slow_velocity"`
	WFloor       float64 `json:"w_floor"`

	InPlaceWMax float64 `json:"in_place_w_max"`
	InPlaceWMin float64 `json:"in_place_w_min"`

	AngleToTurn       float64 `json:"angle_to_turn"`
	GoalDistThreshold float64 `json:"goal_dist_threshold"`
	FinalYawThreshold float64 `json:"final_yaw_threshold"`

	ObstacleRange float64 `json:"obstacle_range"`
	RobotRadius   float64 `json:"robot_radius"`
	FootprintPad  float64 `json:"footprint_pad"`
	AngleRes      float64 `json:"angle_res"`

	WeightObstacle float64 `json:"weight_obstacle"`
	WeightGoal     float64 `json:"weight_goal"`
	WeightSpeed    float64 `json:"weight_speed"`
	WeightPath     float64 `json:"weight_path"`

	StaleTicks     int     `json:"stale_ticks"`
	SleepAfterDone float64 `json:"sleep_after_done"`

	UseFootprint   bool `json:"use_footprint"`
	UsePathCost    bool `json:"use_path_cost"`
	UseScanAsInput bool `json:"use_scan_as_input"`

	StopPoints []Waypoint `json:"stop_points,omitempty"`
	StopEps    float64    `json:"stop_eps"`
	StopHold   float64    `json:"stop_hold"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		ControlHz:         20,
		SimPeriod:         0.05,
		PredictTime:       3.0,
		SimSteps:          30,
		VSamples:          11,
		WSamples:          21,
		VMin:              0.0,
		VMax:              0.8,
		WMax:              1.0,
		AccelMax:          2.5,
		AngAccelMax:       3.2,
		SlowVelocity:      0.1,
		WFloor:            0.1,
		InPlaceWMax:       0.8,
		InPlaceWMin:       0.1,
		AngleToTurn:       0.8,
		GoalDistThreshold: 0.1,
		FinalYawThreshold: 0.1,
		ObstacleRange:     3.5,
		RobotRadius:       0.25,
		FootprintPad:      0.01,
		AngleRes:          0.087,
		WeightObstacle:    1.0,
		WeightGoal:        0.8,
		WeightSpeed:       0.4,
		WeightPath:        0.4,
		StaleTicks:        10,
		SleepAfterDone:    2.0,
		StopEps:           0.1,
		StopHold:          10.0,
	}
}

// Validate refuses configurations the planner cannot start with.
func (c *Config) Validate(path string) error {
	if c.ControlHz <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("control_hz must be positive"))
	}
	if c.SimPeriod <= 0 || c.PredictTime <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("sim_period and predict_time must be positive"))
	}
	if c.SimSteps <= 0 || c.VSamples <= 0 || c.WSamples <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("sample counts must be positive"))
	}
	if c.VMin < 0 || c.VMax < c.VMin || c.WMax < 0 || c.AccelMax < 0 || c.AngAccelMax < 0 {
		return goutils.NewConfigValidationError(path, errors.New("velocity and acceleration limits out of range"))
	}
	if c.RobotRadius <= 0 && !c.UseFootprint {
		return goutils.NewConfigValidationError(path, errors.New("robot_radius must be positive without a footprint"))
	}
	if c.AngleRes <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("angle_res must be positive"))
	}
	if c.ObstacleRange <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("obstacle_range must be positive"))
	}
	if c.StaleTicks <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("stale_ticks must be positive"))
	}
	for _, wp := range c.StopPoints {
		if wp.Action != "" && wp.Action != ActionDrive && wp.Action != ActionStop {
			return goutils.NewConfigValidationError(path, errors.Errorf("unknown waypoint action %q", wp.Action))
		}
	}
	return nil
}

// DWA projects the planner-facing subset of the configuration.
func (c *Config) DWA() dwa.Config {
	return dwa.Config{
		SimPeriod:      c.SimPeriod,
		PredictTime:    c.PredictTime,
		SimSteps:       c.SimSteps,
		VSamples:       c.VSamples,
		WSamples:       c.WSamples,
		VMin:           c.VMin,
		VMax:           c.VMax,
		WMax:           c.WMax,
		AccelMax:       c.AccelMax,
		AngAccelMax:    c.AngAccelMax,
		SlowVelocity:   c.SlowVelocity,
		WFloor:         c.WFloor,
		ObstacleRange:  c.ObstacleRange,
		WeightObstacle: c.WeightObstacle,
		WeightGoal:     c.WeightGoal,
		WeightSpeed:    c.WeightSpeed,
		WeightPath:     c.WeightPath,
		UsePathCost:    c.UsePathCost,
	}
}

// ReadFile loads, overlays onto defaults, and validates a JSON5 config file.
func ReadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "cannot read config %q", path)
	}
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "cannot parse config %q", path)
	}
	if err := cfg.Validate(path); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromAttributes overlays a free-form attribute map onto defaults, the way a
// host middleware hands through per-service attributes.
func FromAttributes(attributes map[string]interface{}) (Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &cfg})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return cfg, errors.Wrap(err, "cannot decode attributes")
	}
	if err := cfg.Validate("attributes"); err != nil {
		return cfg, err
	}
	return cfg, nil
}
