// Package sim is the boundary between the teleoperation loop and the
// physics engine. The loop only needs body poses, actuator ranges, control
// inputs and a way to drag bodies around; Kinematic implements that without
// a full dynamics engine.
package sim

import "github.com/gwillem/vrglove/pkg/spatial"

// Dims are the array sizes reported in a Snapshot.
type Dims struct {
	NQ          int
	NV          int
	NU          int
	NMocap      int
	NSensorData int
	NUserData   int
}

// Snapshot is the loggable state after a step.
type Snapshot struct {
	Time       float64
	QPos       []float64
	QVel       []float64
	Ctrl       []float64
	MocapPos   []float64
	MocapQuat  []float64
	SensorData []float64
	UserData   []float64
}

// Sim is what the teleoperation loop drives.
type Sim interface {
	// NumBodies counts bodies including the world body 0.
	NumBodies() int
	BodyName(id int) string
	// BodyInertialPose returns the pose of the body's inertial frame in model space.
	BodyInertialPose(id int) spatial.Pose

	NumActuators() int
	ActuatorName(id int) string
	// ActuatorID returns -1 when no actuator has the given name.
	ActuatorID(name string) int
	CtrlRange(id int) (lo, hi float64)
	Ctrl(id int) float64
	SetCtrl(id int, v float64)

	// ClearPerturbations drops every perturbation applied since the last call.
	ClearPerturbations()
	// Perturb drags body so its inertial frame follows target.
	Perturb(body int, target spatial.Pose)

	Step() error
	// Reset restores the first keyframe, or the default state without one.
	Reset()
	Time() float64
	Timestep() float64

	Dims() Dims
	// Names is every body and actuator name, NUL separated.
	Names() string
	Snapshot() Snapshot
}
