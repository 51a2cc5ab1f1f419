package teleop

import (
	"time"

	"github.com/golang/geo/r3"

	"github.com/gwillem/vrglove/pkg/sim"
	"github.com/gwillem/vrglove/pkg/spatial"
	"github.com/gwillem/vrglove/pkg/vr"
)

// Gripper actuators driven by the trigger while tracking.
const (
	RightGripper = "r_gripper_finger_joint"
	LeftGripper  = "l_gripper_finger_joint"
)

// triggerGain makes a partly pulled trigger close the gripper fully.
const triggerGain = 1.5

// Session maps controller poses and buttons onto simulator actions. It is
// not safe for concurrent use; the Controller loop owns it.
type Session struct {
	scene    Scene
	hands    [2]hand
	present  int
	tracking bool
	now      func() time.Time
}

// NewSession tracks the first controllers of each frame. controllers is
// the number known up front; slots that connect later are picked up by
// Update. Controller 0 starts with the move tool, controller 1 with the
// pull tool.
func NewSession(controllers int) *Session {
	s := &Session{
		scene:   DefaultScene(),
		present: min(max(controllers, 0), 2),
		now:     time.Now,
	}
	for n := range s.hands {
		s.hands[n] = newHand(n)
	}
	return s
}

// Scene returns the current room placement of the model.
func (s *Session) Scene() Scene { return s.scene }

// Tracking reports whether pulled bodies follow their controllers without
// the trigger held.
func (s *Session) Tracking() bool { return s.tracking }

// Update copies the frame's poses, handles its button events and refreshes
// the controller targets. The move tool is applied to the scene last.
func (s *Session) Update(f vr.Frame, sm sim.Sim) {
	now := s.now()

	// A runtime may not know its controllers until the first frame. Once
	// seen, a slot stays tracked and reports invalid while disconnected.
	for n := s.present; n < len(f.Controllers); n++ {
		if f.Controllers[n].Connected {
			s.present = n + 1
		}
	}

	for n := 0; n < s.present; n++ {
		h := &s.hands[n]
		c := f.Controllers[n]
		h.roomPos = r3.Vector{X: c.Pos[0], Y: c.Pos[1], Z: c.Pos[2]}
		h.roomMat = c.Mat
		h.valid = c.Usable()
		if h.valid {
			h.pose = s.scene.RoomToModel(spatial.Pose{Pos: h.roomPos, Rot: spatial.QuatFromMat(c.Mat)})
		}
		h.trigger = c.Trigger
		h.pad = c.Pad
	}

	for _, e := range f.Events {
		if e.Hand < 0 || e.Hand >= s.present || e.Button < 0 || int(e.Button) >= numButtons {
			continue
		}
		s.handle(e, sm, now)
	}

	for n := 0; n < s.present; n++ {
		h := &s.hands[n]
		if !s.tracking && !h.holding(vr.ButtonTrigger) {
			h.rel = relativePose(h.pose, sm, h.body)
		}
		if (h.holding(vr.ButtonTrigger) || s.tracking) && h.tool != ToolMove {
			h.target = spatial.Mul(h.pose, h.rel)
		} else {
			h.target = h.pose
		}
	}

	for n := 0; n < s.present; n++ {
		h := &s.hands[n]
		if h.valid && h.tool == ToolMove && h.holding(vr.ButtonTrigger) {
			s.move(h)
		}
	}
}

func (s *Session) handle(e vr.Event, sm sim.Sim, now time.Time) {
	h := &s.hands[e.Hand]

	switch e.Type {
	case vr.Press:
		h.hold[e.Button] = true
		if e.Button != vr.ButtonSide && e.Button != vr.ButtonTrigger {
			s.tracking = false
		}

		switch e.Button {
		case vr.ButtonTrigger:
			h.oldRoomPos = h.roomPos
			h.oldRoomMat = h.roomMat
			h.rel = relativePose(h.pose, sm, h.body)
		case vr.ButtonMenu:
			h.tool = (h.tool + 1) % numTools
			h.say(now, "%s", h.tool)
		case vr.ButtonPad:
			if h.tool == ToolMove {
				break
			}
			if h.pad[1] > 0 {
				h.body = max(0, h.body-1)
			} else {
				h.body = min(sm.NumBodies()-1, h.body+1)
			}
			if name := sm.BodyName(h.body); name != "" {
				h.say(now, "body '%s'", name)
			} else {
				h.say(now, "body %d", h.body)
			}
		case vr.ButtonSide:
			s.tracking = !s.tracking
		}

	case vr.Unpress:
		h.hold[e.Button] = false

	case vr.Touch:
		h.touch[e.Button] = true
		switch e.Button {
		case vr.ButtonTrigger:
			h.oldTrigger = h.trigger
		case vr.ButtonPad:
			h.oldPad = h.pad
		}

	case vr.Untouch:
		h.touch[e.Button] = false
	}
}

// move drags the scene with the controller: pad swipes zoom, translation
// follows the controller and turning about room y spins the scene around it.
func (s *Session) move(h *hand) {
	if h.touch[vr.ButtonPad] {
		s.scene.zoom(h.pad[1] - h.oldPad[1])
		h.oldPad[1] = h.pad[1]
	}

	s.scene.Translate = s.scene.Translate.Add(h.roomPos.Sub(h.oldRoomPos))
	h.oldRoomPos = h.roomPos

	dif := spatial.QuatFromMat(spatial.MulMatMatT(h.roomMat, h.oldRoomMat))
	yaw := spatial.QuatToVel(dif, 1).Y
	s.scene.spin(yaw, h.roomPos)

	h.oldRoomMat = h.roomMat
}

// Apply drags the bodies held by pull controllers and, while tracking,
// drives the gripper from the trigger. Perturbations from the previous
// step are cleared first.
func (s *Session) Apply(sm sim.Sim) {
	sm.ClearPerturbations()

	for n := 0; n < s.present; n++ {
		h := &s.hands[n]
		if !h.valid || h.tool != ToolPull || h.body <= 0 || !(h.holding(vr.ButtonTrigger) || s.tracking) {
			continue
		}
		sm.Perturb(h.body, h.target)

		if s.tracking {
			driveGripper(sm, h.trigger)
		}
	}
}

// driveGripper opens both fingers at trigger 0 and closes them at 2/3 pull.
// It does nothing unless both actuators exist.
func driveGripper(sm sim.Sim, trigger float64) {
	r, l := sm.ActuatorID(RightGripper), sm.ActuatorID(LeftGripper)
	if r < 0 || l < 0 {
		return
	}
	t := min(trigger*triggerGain, 1)
	for _, id := range []int{r, l} {
		lo, hi := sm.CtrlRange(id)
		sm.SetCtrl(id, lo+(1-t)*(hi-lo))
	}
}

// relativePose is the body's inertial frame seen from the controller.
func relativePose(ctl spatial.Pose, sm sim.Sim, body int) spatial.Pose {
	return spatial.Mul(spatial.Inverse(ctl), sm.BodyInertialPose(body))
}

// Hands reports the state of every tracked controller.
func (s *Session) Hands(sm sim.Sim) []HandState {
	now := s.now()
	out := make([]HandState, s.present)
	for n := range out {
		h := &s.hands[n]
		room := s.scene.ModelToRoom(h.target).Pos
		out[n] = HandState{
			Present:  true,
			Valid:    h.valid,
			Tool:     h.tool,
			Body:     h.body,
			BodyName: sm.BodyName(h.body),
			Trigger:  h.trigger,
			Holding:  h.holding(vr.ButtonTrigger),
			Target:   [3]float64{h.target.Pos.X, h.target.Pos.Y, h.target.Pos.Z},
			Room:     [3]float64{room.X, room.Y, room.Z},
			Message:  h.activeMessage(now),
		}
	}
	return out
}
