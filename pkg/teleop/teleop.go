// Package teleop maps VR controller input onto a simulated hand and runs
// the teleoperation loop.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/vrglove/pkg/sim"
	"github.com/gwillem/vrglove/pkg/simlog"
	"github.com/gwillem/vrglove/pkg/telemetry"
	"github.com/gwillem/vrglove/pkg/vr"
)

// FrameRate is the rate at which VR frames are requested, in simulation time.
const FrameRate = 90

// State represents the current state of teleoperation.
type State struct {
	Time      float64      `json:"time"`
	FPS       float64      `json:"fps"`
	Ctrl      []float64    `json:"ctrl"`
	Glove     []float64    `json:"glove,omitempty"`
	Hands     []HandState  `json:"hands"`
	Scale     float64      `json:"scale"`
	Tracking  bool         `json:"tracking"`
	Overlay   Overlay      `json:"overlay"`
	// Eyes are the head-mounted cameras in room space, for an external
	// renderer.
	Eyes      [2]vr.Camera `json:"eyes"`
	Timestamp time.Time    `json:"timestamp"`
	Error     error        `json:"-"`
}

// Glove supplies actuator commands from a calibrated data glove.
type Glove interface {
	ReadCtrl(ctx context.Context) ([]float64, error)
	Close() error
}

// Controller manages the teleoperation control loop.
type Controller struct {
	sim     sim.Sim
	runtime vr.Runtime
	glove   Glove
	simlog  *simlog.Writer
	pub     telemetry.Publisher
	logger  *zap.Logger
	session *Session
	hz      int

	mu        sync.RWMutex
	running   bool
	resetReq  bool
	gloveCtrl []float64
	stateCh   chan State
	logCh     chan string

	// loop-owned
	fps       float64
	frameTime float64
	lastFrame time.Time
	overlay   Overlay
	eyes      [2]vr.Camera
}

// Config holds configuration for the controller.
type Config struct {
	Sim     sim.Sim
	Runtime vr.Runtime
	// Glove overrides the actuator commands when set.
	Glove Glove
	// Log records every step when set.
	Log       *simlog.Writer
	Publisher telemetry.Publisher
	Logger    *zap.Logger
	// Hz is the step rate; zero runs the simulation in real time.
	Hz int
}

// NewController creates a new teleoperation controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Sim == nil {
		return nil, errors.New("teleop: no simulator")
	}
	if cfg.Runtime == nil {
		return nil, errors.New("teleop: no VR runtime")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Hz <= 0 {
		cfg.Hz = int(1/cfg.Sim.Timestep() + 0.5)
	}

	return &Controller{
		sim:     cfg.Sim,
		runtime: cfg.Runtime,
		glove:   cfg.Glove,
		simlog:  cfg.Log,
		pub:     cfg.Publisher,
		logger:  cfg.Logger,
		session: NewSession(cfg.Runtime.Controllers()),
		hz:      cfg.Hz,
		fps:     FrameRate,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}, nil
}

// Close closes the controller and releases resources.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	err := c.runtime.Close()
	if c.glove != nil {
		err = multierr.Append(err, c.glove.Close())
	}
	if c.simlog != nil {
		err = multierr.Append(err, c.simlog.Close())
	}
	if c.pub != nil {
		err = multierr.Append(err, c.pub.Close())
	}
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Running reports whether the loop is active.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// ActuatorNames lists the simulator actuators in control order.
func (c *Controller) ActuatorNames() []string {
	names := make([]string, c.sim.NumActuators())
	for i := range names {
		names[i] = c.sim.ActuatorName(i)
	}
	return names
}

// Reset returns the simulation to its first keyframe before the next step.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.resetReq = true
	c.mu.Unlock()
}

func (c *Controller) log(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	c.logger.Info(text)
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), text)
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start begins the teleoperation control loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if c.glove != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.readGlove(ctx)
		}()
		c.log("Glove: overriding actuator commands")
	}
	if c.simlog != nil && c.simlog.Path() != "" {
		c.log("Logging to %s", c.simlog.Path())
	}

	c.log("Teleoperation started at %d Hz with %d controllers", c.hz, c.session.present)
	c.frameTime = c.sim.Time()
	c.lastFrame = time.Now()

	// Control loop
	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if err := c.step(ctx); err != nil {
				c.shutdown()
				return err
			}
		}
	}
}

// readGlove keeps the latest glove command so that slow serial reads never
// stall the simulation. Reads are paced at the loop rate.
func (c *Controller) readGlove(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ctrl, err := c.glove.ReadCtrl(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !failing {
				c.log("Glove read error: %v", err)
				failing = true
			}
			continue
		}
		if failing {
			c.log("Glove reads recovered")
			failing = false
		}
		c.mu.Lock()
		c.gloveCtrl = ctrl
		c.mu.Unlock()
	}
}

// step advances the simulation once. Only a failure to wait for a VR frame
// ends the loop; simulation errors are reported and the step is skipped.
func (c *Controller) step(ctx context.Context) error {
	c.mu.Lock()
	reset := c.resetReq
	c.resetReq = false
	gloveCtrl := c.gloveCtrl
	c.mu.Unlock()

	if reset {
		c.sim.Reset()
		c.log("Simulation reset")
	}

	// Fetch a new VR frame once per frame period, or right after a reset.
	t := c.sim.Time()
	newFrame := t-c.frameTime > 1.0/FrameRate || t < c.frameTime
	if newFrame {
		f, err := c.runtime.WaitFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for VR frame: %w", err)
		}
		c.session.Update(f, c.sim)
		c.overlay = c.session.Markers(c.sim)
		c.eyes = vr.EyeCameras(f.HMD, c.runtime.EyeOffsets())

		now := time.Now()
		if dt := now.Sub(c.lastFrame).Seconds(); dt > 0 {
			c.fps = 0.9*c.fps + 0.1/dt
		}
		c.lastFrame = now
		c.frameTime = t
	}

	c.session.Apply(c.sim)

	n := min(len(gloveCtrl), c.sim.NumActuators())
	for i := 0; i < n; i++ {
		c.sim.SetCtrl(i, gloveCtrl[i])
	}

	if err := c.sim.Step(); err != nil {
		c.log("Step error: %v", err)
		c.sendState(State{Error: err, Timestamp: time.Now()})
		return nil
	}

	if c.simlog != nil {
		if err := c.simlog.Write(c.sim.Snapshot()); err != nil {
			c.log("Log write error: %v", err)
		}
	}

	state := c.state(gloveCtrl)
	c.sendState(state)
	if newFrame && c.pub != nil {
		if err := c.pub.Publish(state); err != nil {
			c.logger.Debug("telemetry publish", zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) state(gloveCtrl []float64) State {
	ctrl := make([]float64, c.sim.NumActuators())
	for i := range ctrl {
		ctrl[i] = c.sim.Ctrl(i)
	}
	return State{
		Time:      c.sim.Time(),
		FPS:       c.fps,
		Ctrl:      ctrl,
		Glove:     gloveCtrl,
		Hands:     c.session.Hands(c.sim),
		Scale:     c.session.Scene().Scale,
		Tracking:  c.session.Tracking(),
		Overlay:   c.overlay,
		Eyes:      c.eyes,
		Timestamp: time.Now(),
	}
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if c.simlog != nil {
		c.log("Logged %d steps", c.simlog.Steps())
	}
	c.log("Teleoperation stopped")
}
