package sim

import (
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/vrglove/pkg/spatial"
)

const testModel = `
timestep: 0.01
perturb_gain: 1000
joint_gain: 1000
bodies:
  - name: base
    pos: [0, 0, 1]
  - name: box
    pos: [1, 0, 0]
    ipos: [0, 0, 0.5]
    free: true
actuators:
  - {name: finger, ctrlrange: [0, 1]}
  - {name: wrist, ctrlrange: [-1, 1]}
keyframes:
  - name: start
    ctrl: [0.5, -0.5]
    bodies:
      box: {pos: [2, 0, 0]}
`

func newTestSim(t *testing.T) *Kinematic {
	t.Helper()
	m, err := ParseModel([]byte(testModel))
	require.NoError(t, err)
	return NewKinematic(m, nil)
}

func TestParseModelDefaults(t *testing.T) {
	m, err := ParseModel([]byte("bodies: []\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.002, m.Timestep)
	assert.Equal(t, 50.0, m.PerturbGain)
	assert.Equal(t, 0.05, m.MeanSize)
}

func TestParseModelErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"world name", "bodies: [{name: world}]", "invalid name"},
		{"duplicate", "bodies: [{name: a}, {name: a}]", "defined twice"},
		{"bad quat", "bodies: [{name: a, quat: [1, 0]}]", "need 4 values"},
		{"bad range", "actuators: [{name: a, ctrlrange: [1, 0]}]", "min above max"},
		{"short keyframe", "actuators: [{name: a}]\nkeyframes: [{name: k, ctrl: [1, 2]}]", "2 ctrl values for 1"},
		{"unknown body", "keyframes: [{name: k, bodies: {x: {pos: [0, 0, 0]}}}]", "unknown body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModel([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestKinematicLookup(t *testing.T) {
	k := newTestSim(t)

	assert.Equal(t, 3, k.NumBodies())
	assert.Equal(t, "world", k.BodyName(0))
	assert.Equal(t, "box", k.BodyName(2))
	assert.Equal(t, "", k.BodyName(7))
	assert.Equal(t, 2, k.BodyID("box"))
	assert.Equal(t, -1, k.BodyID("nope"))

	assert.Equal(t, 2, k.NumActuators())
	assert.Equal(t, 1, k.ActuatorID("wrist"))
	assert.Equal(t, "finger", k.ActuatorName(0))
	assert.Equal(t, "", k.ActuatorName(2))
	assert.Equal(t, -1, k.ActuatorID("nope"))
	lo, hi := k.CtrlRange(1)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 1.0, hi)

	assert.Equal(t, "world\x00base\x00box\x00finger\x00wrist\x00", k.Names())
}

func TestKinematicResetUsesFirstKeyframe(t *testing.T) {
	k := newTestSim(t)

	assert.Equal(t, 0.5, k.Ctrl(0))
	assert.Equal(t, -0.5, k.Ctrl(1))
	assert.Equal(t, 0.5, k.JointPos(0))

	p := k.BodyInertialPose(2)
	assert.InDelta(t, 2, p.Pos.X, 1e-12)
	assert.InDelta(t, 0.5, p.Pos.Z, 1e-12)

	k.SetCtrl(0, 1)
	require.NoError(t, k.Step())
	assert.Greater(t, k.Time(), 0.0)

	k.Reset()
	assert.Equal(t, 0.0, k.Time())
	assert.Equal(t, 0.5, k.Ctrl(0))
}

func TestKinematicStepClampsControls(t *testing.T) {
	k := newTestSim(t)

	k.SetCtrl(0, 3)
	k.SetCtrl(1, -3)
	require.NoError(t, k.Step())

	assert.Equal(t, 1.0, k.Ctrl(0))
	assert.Equal(t, -1.0, k.Ctrl(1))
	// Gain times timestep saturates, so joints reach the control in one step.
	assert.InDelta(t, 1.0, k.JointPos(0), 1e-12)
	assert.InDelta(t, 0.01, k.Time(), 1e-12)
}

func TestKinematicStepRejectsNaN(t *testing.T) {
	k := newTestSim(t)
	k.SetCtrl(0, math.NaN())
	err := k.Step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finger")
}

func TestKinematicPerturb(t *testing.T) {
	k := newTestSim(t)

	target := spatial.Pose{Pos: r3.Vector{X: 0, Y: 1, Z: 0.5}, Rot: spatial.AxisAngle(r3.Vector{Z: 1}, math.Pi/2)}
	k.Perturb(2, target)
	require.NoError(t, k.Step())

	got := k.BodyInertialPose(2)
	assert.InDelta(t, 0, got.Pos.Distance(target.Pos), 1e-9)
	assert.InDelta(t, target.Rot.Real, got.Rot.Real, 1e-9)
	assert.InDelta(t, target.Rot.Kmag, got.Rot.Kmag, 1e-9)

	s := k.Snapshot()
	// box moved from x=2 to x=0 in one 10ms step
	assert.InDelta(t, -200, s.QVel[0], 1e-6)

	k.ClearPerturbations()
	require.NoError(t, k.Step())
	after := k.BodyInertialPose(2)
	assert.InDelta(t, 0, after.Pos.Distance(got.Pos), 1e-12)
	assert.Equal(t, 0.0, k.Snapshot().QVel[0])
}

func TestKinematicPerturbIgnoresFixedBodies(t *testing.T) {
	k := newTestSim(t)
	before := k.BodyInertialPose(1)

	k.Perturb(0, spatial.NewPose(5, 5, 5))
	k.Perturb(1, spatial.NewPose(5, 5, 5))
	k.Perturb(9, spatial.NewPose(5, 5, 5))
	require.NoError(t, k.Step())

	assert.Equal(t, before, k.BodyInertialPose(1))
}

func TestKinematicSnapshotLayout(t *testing.T) {
	k := newTestSim(t)

	d := k.Dims()
	assert.Equal(t, Dims{NQ: 9, NV: 8, NU: 2}, d)

	s := k.Snapshot()
	require.Len(t, s.QPos, d.NQ)
	require.Len(t, s.QVel, d.NV)
	require.Len(t, s.Ctrl, d.NU)
	assert.Equal(t, []float64{2, 0, 0, 1, 0, 0, 0, 0.5, -0.5}, s.QPos)

	s.Ctrl[0] = 42
	assert.Equal(t, 0.5, k.Ctrl(0))
}

func TestDefaultModel(t *testing.T) {
	m := DefaultModel()
	k := NewKinematic(m, nil)

	assert.Equal(t, 26, k.NumActuators())
	assert.GreaterOrEqual(t, k.ActuatorID("r_gripper_finger_joint"), 0)
	assert.GreaterOrEqual(t, k.ActuatorID("l_gripper_finger_joint"), 0)
	assert.True(t, strings.HasPrefix(k.Names(), "world\x00forearm\x00"))
	require.NoError(t, k.Step())
}
