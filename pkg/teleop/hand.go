package teleop

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"github.com/gwillem/vrglove/pkg/spatial"
	"github.com/gwillem/vrglove/pkg/vr"
)

// Tool is what a controller does with the trigger held.
type Tool int

const (
	// ToolMove drags, turns and zooms the whole scene.
	ToolMove Tool = iota
	// ToolPull drags the selected body.
	ToolPull
	numTools
)

func (t Tool) String() string {
	switch t {
	case ToolMove:
		return "move"
	case ToolPull:
		return "pull"
	}
	return fmt.Sprintf("tool(%d)", int(t))
}

func (t Tool) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

const (
	numButtons      = 4
	messageDuration = time.Second
)

// RGBA is a colour with alpha, components in [0,1].
type RGBA [4]float64

// Controller marker colours.
var handColors = [2]RGBA{
	{0.8, 0.2, 0.2, 0.6},
	{0.2, 0.8, 0.2, 0.6},
}

type hand struct {
	tool  Tool
	body  int
	valid bool
	hold  [numButtons]bool
	touch [numButtons]bool

	roomPos    r3.Vector
	roomMat    [9]float64
	oldRoomPos r3.Vector
	oldRoomMat [9]float64

	pose   spatial.Pose // controller in model space
	target spatial.Pose
	rel    spatial.Pose // selected body relative to the controller

	trigger    float64
	oldTrigger float64
	pad        [2]float64
	oldPad     [2]float64

	message      string
	messageStart time.Time
}

func newHand(n int) hand {
	h := hand{
		pose:   spatial.Pose{Rot: spatial.Identity},
		target: spatial.Pose{Rot: spatial.Identity},
		rel:    spatial.Pose{Rot: spatial.Identity},
	}
	if n == 0 {
		h.tool = ToolMove
	} else {
		h.tool = ToolPull
	}
	return h
}

func (h *hand) holding(b vr.Button) bool { return h.hold[b] }

func (h *hand) say(now time.Time, format string, args ...any) {
	h.message = fmt.Sprintf(format, args...)
	h.messageStart = now
}

func (h *hand) activeMessage(now time.Time) string {
	if h.message != "" && now.Sub(h.messageStart) < messageDuration {
		return h.message
	}
	return ""
}

// HandState is the exported view of one controller.
type HandState struct {
	Present  bool       `json:"present"`
	Valid    bool       `json:"valid"`
	Tool     Tool       `json:"tool"`
	Body     int        `json:"body"`
	BodyName string     `json:"body_name,omitempty"`
	Trigger  float64    `json:"trigger"`
	Holding  bool       `json:"holding"`
	Target   [3]float64 `json:"target"`
	// Room is the target in room space.
	Room     [3]float64 `json:"room"`
	Message  string     `json:"message,omitempty"`
}
