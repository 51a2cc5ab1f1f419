package main

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/gwillem/vrglove/pkg/config"
	"github.com/gwillem/vrglove/pkg/glove"
	"github.com/gwillem/vrglove/pkg/sim"
)

// openSim loads the configured model, or the built-in hand.
func openSim(cfg *config.Config, logger *zap.Logger) (*sim.Kinematic, error) {
	if cfg.Teleop.Model == "" {
		return sim.NewKinematic(sim.DefaultModel(), logger), nil
	}
	return sim.OpenKinematic(cfg.Teleop.Model, logger)
}

// openGlove returns the replay source when one is configured and the serial
// glove otherwise.
func openGlove(cfg *config.Config) (glove.Source, error) {
	if cfg.Glove.Replay != "" {
		return glove.OpenReplay(cfg.Glove.Replay)
	}
	if cfg.Glove.Port == "" {
		return nil, fmt.Errorf("no glove port configured; set glove.port in %s or run 'vrglove ports'", opts.Config)
	}
	return glove.Open(cfg.GloveDevice())
}

// handRange returns the control ranges of the first n actuators, one row
// per actuator.
func handRange(s sim.Sim, n int) (*mat.Dense, error) {
	if n > s.NumActuators() {
		return nil, fmt.Errorf("%d joints but the model has %d actuators", n, s.NumActuators())
	}
	r := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		lo, hi := s.CtrlRange(i)
		r.Set(i, 0, lo)
		r.Set(i, 1, hi)
	}
	return r, nil
}
