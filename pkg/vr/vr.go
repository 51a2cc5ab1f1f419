// Package vr abstracts the VR runtime that reports head and controller
// poses. Poses are in room space: metres, y up, rotation as a row-major 3x3
// matrix.
package vr

import (
	"context"
	"fmt"
)

// Button identifies a controller button.
type Button int

const (
	ButtonTrigger Button = iota
	ButtonSide
	ButtonMenu
	ButtonPad
)

var buttonNames = [...]string{"trigger", "side", "menu", "pad"}

func (b Button) String() string {
	if b < 0 || int(b) >= len(buttonNames) {
		return fmt.Sprintf("button(%d)", int(b))
	}
	return buttonNames[b]
}

func (b Button) MarshalText() ([]byte, error) {
	if b < 0 || int(b) >= len(buttonNames) {
		return nil, fmt.Errorf("unknown button %d", int(b))
	}
	return []byte(buttonNames[b]), nil
}

func (b *Button) UnmarshalText(text []byte) error {
	for i, name := range buttonNames {
		if name == string(text) {
			*b = Button(i)
			return nil
		}
	}
	return fmt.Errorf("unknown button %q", text)
}

// EventType is what happened to a button.
type EventType int

const (
	Press EventType = iota
	Unpress
	Touch
	Untouch
)

var eventNames = [...]string{"press", "unpress", "touch", "untouch"}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(t))
	}
	return eventNames[t]
}

func (t EventType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(eventNames) {
		return nil, fmt.Errorf("unknown event type %d", int(t))
	}
	return []byte(eventNames[t]), nil
}

func (t *EventType) UnmarshalText(text []byte) error {
	for i, name := range eventNames {
		if name == string(text) {
			*t = EventType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", text)
}

// Event is a button transition on controller Hand (0 or 1).
type Event struct {
	Hand   int       `json:"hand"`
	Button Button    `json:"button"`
	Type   EventType `json:"type"`
}

// DevicePose is a tracked device pose. Mat is row-major.
type DevicePose struct {
	Valid     bool       `json:"valid"`
	Connected bool       `json:"connected"`
	Pos       [3]float64 `json:"pos"`
	Mat       [9]float64 `json:"mat"`
}

// Usable reports whether the pose can drive anything.
func (p DevicePose) Usable() bool { return p.Valid && p.Connected }

// ControllerFrame is a controller pose with its analog inputs. Trigger is in
// [0,1] and Pad is the touchpad position in [-1,1]².
type ControllerFrame struct {
	DevicePose
	Trigger float64    `json:"trigger"`
	Pad     [2]float64 `json:"pad"`
}

// Frame is one VR frame: poses at present time plus the button events
// since the previous frame.
type Frame struct {
	HMD         DevicePose         `json:"hmd"`
	Controllers [2]ControllerFrame `json:"controllers"`
	Events      []Event            `json:"events,omitempty"`
}

// EyeOffsets are the eye positions in head space, left then right.
type EyeOffsets [2][3]float64

// DefaultEyeOffsets assumes a 64mm interpupillary distance.
var DefaultEyeOffsets = EyeOffsets{{-0.032, 0, 0}, {0.032, 0, 0}}

// Runtime delivers VR frames.
type Runtime interface {
	// Controllers is the number of controllers currently connected.
	Controllers() int
	EyeOffsets() EyeOffsets
	// WaitFrame blocks until the next frame is available.
	WaitFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Camera is one eye's view in room space.
type Camera struct {
	Pos     [3]float64 `json:"pos"`
	Forward [3]float64 `json:"forward"`
	Up      [3]float64 `json:"up"`
}

// EyeCameras places both eyes relative to the head pose.
func EyeCameras(hmd DevicePose, eyes EyeOffsets) [2]Camera {
	m := hmd.Mat
	var cams [2]Camera
	for n, off := range eyes {
		for i := range 3 {
			cams[n].Pos[i] = hmd.Pos[i] + m[3*i]*off[0] + m[3*i+1]*off[1] + m[3*i+2]*off[2]
		}
		cams[n].Forward = [3]float64{-m[2], -m[5], -m[8]}
		cams[n].Up = [3]float64{m[1], m[4], m[7]}
	}
	return cams
}

func countConnected(f Frame) int {
	n := 0
	for _, c := range f.Controllers {
		if c.Connected {
			n++
		}
	}
	return n
}
