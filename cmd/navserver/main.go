// Package main runs the DWA local planner as a standalone process, wiring
// the input hub, the odometry transformer, and the mission loop together
// from a JSON5 config file.
package main

import (
	"context"
	"flag"

	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/navloop/config"
	"github.com/viam-labs/navloop/mission"
	"github.com/viam-labs/navloop/spatialmath"
	"github.com/viam-labs/navloop/transport"
)

var logger = golog.NewDevelopmentLogger("navserver")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// logSink publishes commands to the log until a real middleware binding is
// attached.
type logSink struct {
	logger golog.Logger
}

func (s *logSink) SendVelocity(cmd spatialmath.Twist) error {
	s.logger.Debugw("cmd_vel", "linear", cmd.Linear, "angular", cmd.Angular)
	return nil
}

func (s *logSink) SendDone() error {
	s.logger.Info("mission finished")
	return nil
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a JSON5 planner config; defaults apply when empty")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.ReadFile(*configPath); err != nil {
			return err
		}
	}

	hub := transport.NewHub(cfg.VMax, cfg.FootprintPad, cfg.GoalDistThreshold)
	tf := transport.NewOdomTransformer()
	svc, err := mission.New(cfg, hub, tf, &logSink{logger}, logger)
	if err != nil {
		return err
	}

	svc.Start()
	defer svc.Stop()
	logger.Infow("planner running", "control_hz", cfg.ControlHz)

	<-ctx.Done()
	return nil
}
