package teleop

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/vrglove/pkg/sim"
	"github.com/gwillem/vrglove/pkg/spatial"
	"github.com/gwillem/vrglove/pkg/vr"
)

const testModel = `
timestep: 0.002
perturb_gain: 1000
joint_gain: 1000
bodies:
  - {name: table, pos: [0, 0, 0]}
  - {name: box, pos: [0, -0.2, 1.5], free: true}
actuators:
  - {name: finger, ctrlrange: [0, 1]}
  - {name: r_gripper_finger_joint, ctrlrange: [0, 0.04]}
  - {name: l_gripper_finger_joint, ctrlrange: [0.01, 0.05]}
`

const (
	bodyTable = 1
	bodyBox   = 2
)

func newTestSim(t *testing.T) *sim.Kinematic {
	t.Helper()
	m, err := sim.ParseModel([]byte(testModel))
	require.NoError(t, err)
	return sim.NewKinematic(m, nil)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestSession() (*Session, *clock) {
	s := NewSession(2)
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func frame(events ...vr.Event) vr.Frame {
	f := vr.IdleFrame()
	f.Events = events
	return f
}

func press(hand int, b vr.Button) vr.Event { return vr.Event{Hand: hand, Button: b, Type: vr.Press} }
func unpress(hand int, b vr.Button) vr.Event { return vr.Event{Hand: hand, Button: b, Type: vr.Unpress} }
func touch(hand int, b vr.Button) vr.Event { return vr.Event{Hand: hand, Button: b, Type: vr.Touch} }

func rotY(a float64) [9]float64 {
	c, s := math.Cos(a), math.Sin(a)
	return [9]float64{c, 0, s, 0, 1, 0, -s, 0, c}
}

func assertVec(t *testing.T, want, got r3.Vector) {
	t.Helper()
	assert.InDelta(t, 0, want.Distance(got), 1e-9, "want %v got %v", want, got)
}

func assertScene(t *testing.T, want, got Scene) {
	t.Helper()
	assertVec(t, want.Translate, got.Translate)
	assert.InDelta(t, want.Scale, got.Scale, 1e-12)
	for _, d := range []float64{
		want.Rotate.Real - got.Rotate.Real,
		want.Rotate.Imag - got.Rotate.Imag,
		want.Rotate.Jmag - got.Rotate.Jmag,
		want.Rotate.Kmag - got.Rotate.Kmag,
	} {
		assert.InDelta(t, 0, d, 1e-9)
	}
}

func TestDefaultSceneMapsRoomUpToModelZ(t *testing.T) {
	s := DefaultScene()
	p := s.RoomToModel(spatial.NewPose(0, 1, -0.3))
	assertVec(t, r3.Vector{X: 0, Y: -0.2, Z: 1.5}, p.Pos)

	back := s.ModelToRoom(p)
	assertVec(t, r3.Vector{X: 0, Y: 1, Z: -0.3}, back.Pos)
	assert.InDelta(t, 1, back.Rot.Real, 1e-12)
}

func TestSceneZoomClamps(t *testing.T) {
	s := DefaultScene()
	s.zoom(0.5)
	assert.InDelta(t, 1+math.Log(4.0/3)*0.5, s.Scale, 1e-12)

	s.zoom(-1000)
	assert.InDelta(t, minScale, s.Scale, 1e-12)
	s.zoom(1e9)
	assert.InDelta(t, maxScale, s.Scale, 1e-12)
}

func TestSceneSpinKeepsPivot(t *testing.T) {
	s := DefaultScene()
	pivot := r3.Vector{X: -0.2, Y: 1, Z: -0.3}
	before := s.RoomToModel(spatial.Pose{Pos: pivot, Rot: spatial.Identity}).Pos

	s.spin(0.7, pivot)

	after := s.RoomToModel(spatial.Pose{Pos: pivot, Rot: spatial.Identity}).Pos
	assertVec(t, before, after)
	assert.InDelta(t, 1, quat.Abs(s.Rotate), 1e-12)
}

func TestNewSessionTools(t *testing.T) {
	s, _ := newTestSession()
	assert.Equal(t, ToolMove, s.hands[0].tool)
	assert.Equal(t, ToolPull, s.hands[1].tool)
	assert.Equal(t, 2, s.present)
	assert.Equal(t, 1, NewSession(1).present)
	assert.Equal(t, 2, NewSession(5).present)
}

func TestMenuCyclesToolWithMessage(t *testing.T) {
	k := newTestSim(t)
	s, clk := newTestSession()

	s.Update(frame(press(0, vr.ButtonMenu)), k)
	assert.Equal(t, ToolPull, s.hands[0].tool)
	assert.Equal(t, "pull", s.Hands(k)[0].Message)

	clk.t = clk.t.Add(999 * time.Millisecond)
	assert.Equal(t, "pull", s.Hands(k)[0].Message)
	clk.t = clk.t.Add(time.Millisecond)
	assert.Empty(t, s.Hands(k)[0].Message)

	s.Update(frame(press(0, vr.ButtonMenu)), k)
	assert.Equal(t, ToolMove, s.hands[0].tool)
	assert.Equal(t, "move", s.Hands(k)[0].Message)
}

func TestPadSelectsBodies(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()

	down := frame(press(1, vr.ButtonPad))
	down.Controllers[1].Pad = [2]float64{0, -0.5}
	up := frame(press(1, vr.ButtonPad))
	up.Controllers[1].Pad = [2]float64{0, 0.5}

	s.Update(down, k)
	assert.Equal(t, bodyTable, s.hands[1].body)
	assert.Equal(t, "body 'table'", s.Hands(k)[1].Message)

	s.Update(down, k)
	s.Update(down, k)
	assert.Equal(t, bodyBox, s.hands[1].body, "clamped at the last body")

	for range 4 {
		s.Update(up, k)
	}
	assert.Equal(t, 0, s.hands[1].body, "clamped at the world body")
	assert.Equal(t, "body 'world'", s.Hands(k)[1].Message)

	// the move tool ignores the pad button
	move := frame(press(0, vr.ButtonPad))
	move.Controllers[0].Pad = [2]float64{0, -1}
	s.Update(move, k)
	assert.Equal(t, 0, s.hands[0].body)
}

func TestTrackingToggles(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()

	s.Update(frame(press(1, vr.ButtonSide)), k)
	assert.True(t, s.Tracking())

	s.Update(frame(press(1, vr.ButtonTrigger), unpress(1, vr.ButtonTrigger)), k)
	assert.True(t, s.Tracking(), "trigger keeps tracking")

	s.Update(frame(press(0, vr.ButtonMenu)), k)
	assert.False(t, s.Tracking(), "menu clears tracking")

	s.Update(frame(press(1, vr.ButtonSide)), k)
	s.Update(frame(press(1, vr.ButtonSide)), k)
	assert.False(t, s.Tracking())
}

func TestEventsForMissingControllersAreIgnored(t *testing.T) {
	k := newTestSim(t)
	s := NewSession(1)

	f := frame(press(1, vr.ButtonMenu), press(5, vr.ButtonMenu), vr.Event{Hand: 0, Button: 9})
	f.Controllers[1].Connected = false
	s.Update(f, k)
	assert.Equal(t, ToolPull, s.hands[1].tool)
	assert.Len(t, s.Hands(k), 1)
}

func TestControllersConnectingLateAreTracked(t *testing.T) {
	k := newTestSim(t)
	s := NewSession(0)
	s.now = (&clock{}).now

	empty := frame(press(0, vr.ButtonMenu))
	empty.Controllers = [2]vr.ControllerFrame{}
	s.Update(empty, k)
	assert.Empty(t, s.Hands(k))
	assert.Equal(t, ToolMove, s.hands[0].tool)

	s.Update(frame(press(0, vr.ButtonMenu)), k)
	hands := s.Hands(k)
	require.Len(t, hands, 2)
	assert.Equal(t, ToolPull, hands[0].Tool)
	assert.True(t, hands[1].Valid)

	// a controller that drops out keeps its slot
	lost := frame()
	lost.Controllers[1].Connected = false
	s.Update(lost, k)
	hands = s.Hands(k)
	require.Len(t, hands, 2)
	assert.False(t, hands[1].Valid)
}

func selectBox(s *Session, k sim.Sim, hand int) {
	f := frame(press(hand, vr.ButtonPad), press(hand, vr.ButtonPad))
	f.Controllers[hand].Pad = [2]float64{0, -1}
	s.Update(f, k)
}

func TestPullDragsSelectedBody(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	selectBox(s, k, 1)
	require.Equal(t, bodyBox, s.hands[1].body)

	start := k.BodyInertialPose(bodyBox).Pos

	// without the trigger the target is the controller itself
	s.Apply(k)
	require.NoError(t, k.Step())
	assertVec(t, start, k.BodyInertialPose(bodyBox).Pos)

	s.Update(frame(press(1, vr.ButtonTrigger)), k)
	assertVec(t, start, s.hands[1].target.Pos)

	moved := frame()
	moved.Controllers[1].Pos[0] += 0.1
	s.Update(moved, k)
	want := start.Add(r3.Vector{X: 0.1})
	assertVec(t, want, s.hands[1].target.Pos)

	s.Apply(k)
	require.NoError(t, k.Step())
	assertVec(t, want, k.BodyInertialPose(bodyBox).Pos)

	// releasing the trigger lets go
	s.Update(frame(unpress(1, vr.ButtonTrigger)), k)
	s.Apply(k)
	require.NoError(t, k.Step())
	assertVec(t, want, k.BodyInertialPose(bodyBox).Pos)
}

func TestPullFollowsControllerRotation(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	selectBox(s, k, 1)
	s.Update(frame(press(1, vr.ButtonTrigger)), k)

	turned := frame()
	turned.Controllers[1].Mat = rotY(math.Pi / 2)
	s.Update(turned, k)

	ctl := s.hands[1].pose
	box := k.BodyInertialPose(bodyBox)
	// distance to the controller is preserved by the rigid grasp
	assert.InDelta(t, box.Pos.Distance(ctl.Pos), s.hands[1].target.Pos.Distance(ctl.Pos), 1e-9)
	assert.Greater(t, s.hands[1].target.Pos.Distance(box.Pos), 0.01)
}

func TestApplySkipsInvalidAndWorld(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	start := k.BodyInertialPose(bodyBox).Pos

	// hand 1 holds the trigger on the world body
	s.Update(frame(press(1, vr.ButtonTrigger)), k)
	s.Apply(k)
	require.NoError(t, k.Step())
	assertVec(t, start, k.BodyInertialPose(bodyBox).Pos)

	selectBox(s, k, 1)
	lost := frame()
	lost.Controllers[1].Valid = false
	lost.Controllers[1].Pos[0] += 1
	s.Update(lost, k)
	s.Apply(k)
	require.NoError(t, k.Step())
	assertVec(t, start, k.BodyInertialPose(bodyBox).Pos)
	assert.False(t, s.Hands(k)[1].Valid)
}

func TestTrackingDrivesGripper(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	selectBox(s, k, 1)
	s.Update(frame(press(1, vr.ButtonSide)), k)
	require.True(t, s.Tracking())

	f := frame()
	f.Controllers[1].Trigger = 0.4
	f.Controllers[1].Pos[2] += 0.05
	s.Update(f, k)
	s.Apply(k)

	// 0.4 * 1.5 = 0.6 closed
	assert.InDelta(t, 0.4*0.04, k.Ctrl(1), 1e-12)
	assert.InDelta(t, 0.01+0.4*0.04, k.Ctrl(2), 1e-12)
	assert.Equal(t, 0.4, s.hands[1].trigger, "trigger reading is not modified")

	f.Controllers[1].Trigger = 0.9
	s.Update(f, k)
	s.Apply(k)
	assert.InDelta(t, 0, k.Ctrl(1), 1e-12)
	assert.InDelta(t, 0.01, k.Ctrl(2), 1e-12)

	// tracking moves the body without the trigger
	require.NoError(t, k.Step())
	assertVec(t, s.hands[1].target.Pos, k.BodyInertialPose(bodyBox).Pos)
}

func TestGripperNeedsBothActuators(t *testing.T) {
	m, err := sim.ParseModel([]byte("actuators: [{name: r_gripper_finger_joint, ctrlrange: [0, 1]}]"))
	require.NoError(t, err)
	k := sim.NewKinematic(m, nil)

	driveGripper(k, 0)
	assert.Equal(t, 0.0, k.Ctrl(0))
}

func TestMoveTranslatesAndSpinsScene(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	s.Update(frame(press(0, vr.ButtonTrigger)), k)
	assertScene(t, DefaultScene(), s.Scene())

	shifted := frame()
	shifted.Controllers[0].Pos[0] += 0.1
	s.Update(shifted, k)
	assert.InDelta(t, 0.1, s.Scene().Translate.X, 1e-12)

	pivot := r3.Vector{X: shifted.Controllers[0].Pos[0], Y: shifted.Controllers[0].Pos[1], Z: shifted.Controllers[0].Pos[2]}
	before := s.Scene().RoomToModel(spatial.Pose{Pos: pivot, Rot: spatial.Identity}).Pos

	turned := shifted
	turned.Controllers[0].Mat = rotY(0.3)
	s.Update(turned, k)

	scene := s.Scene()
	want := quat.Mul(spatial.AxisAngle(r3.Vector{Y: 1}, 0.3), DefaultScene().Rotate)
	assertScene(t, Scene{Translate: scene.Translate, Rotate: want, Scale: 1}, scene)
	assertVec(t, before, scene.RoomToModel(spatial.Pose{Pos: pivot, Rot: spatial.Identity}).Pos)

	// holding still changes nothing
	s.Update(turned, k)
	assertScene(t, scene, s.Scene())
}

func TestMoveRequiresTrigger(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()

	shifted := frame()
	shifted.Controllers[0].Pos[0] += 0.5
	s.Update(shifted, k)
	assert.Equal(t, DefaultScene(), s.Scene())
}

func TestMovePadZooms(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()

	s.Update(frame(press(0, vr.ButtonTrigger), touch(0, vr.ButtonPad)), k)
	assert.Equal(t, 1.0, s.Scene().Scale)

	swipe := frame()
	swipe.Controllers[0].Pad = [2]float64{0, 0.5}
	s.Update(swipe, k)
	assert.InDelta(t, 1+math.Log(4.0/3)*0.5, s.Scene().Scale, 1e-12)

	// same pad position, no further change
	s.Update(swipe, k)
	assert.InDelta(t, 1+math.Log(4.0/3)*0.5, s.Scene().Scale, 1e-12)
}

func TestMarkers(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	s.Update(frame(), k)

	o := s.Markers(k)
	require.Len(t, o.Markers, 2)
	arrow, box := o.Markers[0], o.Markers[1]

	assert.Equal(t, MarkerArrow, arrow.Kind)
	assert.Equal(t, [3]float64{0.01, 0.01, 0.08}, arrow.Size)
	assert.InDeltaSlice(t, []float64{0.4, 0.1, 0.1, 0.6}, arrow.Color[:], 1e-12)

	assert.Equal(t, MarkerBox, box.Kind)
	assert.Equal(t, [3]float64{0.03, 0.02, 0.04}, box.Size)
	assert.Empty(t, o.Highlights)

	selectBox(s, k, 1)
	s.Update(frame(press(1, vr.ButtonTrigger)), k)
	o = s.Markers(k)
	require.Len(t, o.Markers, 3)
	assert.InDeltaSlice(t, []float64{0.2, 0.8, 0.2, 0.6}, o.Markers[1].Color[:], 1e-12)
	assert.Equal(t, "body 'box'", o.Markers[1].Label)

	capsule := o.Markers[2]
	assert.Equal(t, MarkerCapsule, capsule.Kind)
	assert.Equal(t, 1.0, capsule.Color[3])
	assert.InDelta(t, 0.5*0.1*0.05, capsule.Size[0], 1e-12)

	require.Len(t, o.Highlights, 1)
	assert.Equal(t, Highlight{Body: bodyBox, RGB: [3]float64{0.2, 0.8, 0.2}}, o.Highlights[0])
}

func TestMarkersShrinkWithScale(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	s.scene.Scale = 2
	s.Update(frame(), k)

	o := s.Markers(k)
	assert.Equal(t, [3]float64{0.005, 0.005, 0.04}, o.Markers[0].Size)
}

func TestCommonSelectionHighlight(t *testing.T) {
	k := newTestSim(t)
	s, _ := newTestSession()
	s.Update(frame(press(0, vr.ButtonMenu)), k)
	selectBox(s, k, 0)
	selectBox(s, k, 1)

	o := s.Markers(k)
	require.Len(t, o.Highlights, 1)
	assert.Equal(t, bodyBox, o.Highlights[0].Body)
	assert.InDeltaSlice(t, []float64{1, 1, 0.4}, o.Highlights[0].RGB[:], 1e-12)

	// an invalid controller breaks the common colour
	lost := frame()
	lost.Controllers[0].Connected = false
	s.Update(lost, k)
	o = s.Markers(k)
	require.Len(t, o.Highlights, 2)
	assert.InDeltaSlice(t, []float64{0.8, 0.2, 0.2}, o.Highlights[0].RGB[:], 1e-12)
}
