package teleop

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/gwillem/vrglove/pkg/sim"
	"github.com/gwillem/vrglove/pkg/spatial"
	"github.com/gwillem/vrglove/pkg/vr"
)

// MarkerKind is the shape of a decoration.
type MarkerKind int

const (
	MarkerBox MarkerKind = iota
	MarkerArrow
	MarkerCapsule
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerBox:
		return "box"
	case MarkerArrow:
		return "arrow"
	case MarkerCapsule:
		return "capsule"
	}
	return fmt.Sprintf("marker(%d)", int(k))
}

func (k MarkerKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Marker is a decoration in model space. Mat is row-major and Size holds
// half extents; for capsules Size[2] is the half length along local z.
type Marker struct {
	Kind  MarkerKind `json:"kind"`
	Pos   r3.Vector  `json:"pos"`
	Mat   [9]float64 `json:"mat"`
	Size  [3]float64 `json:"size"`
	Color RGBA       `json:"color"`
	Label string     `json:"label,omitempty"`
}

// Highlight recolours every geom of a selected body.
type Highlight struct {
	Body int        `json:"body"`
	RGB  [3]float64 `json:"rgb"`
}

// Overlay is everything the renderer draws on top of the model.
type Overlay struct {
	Markers    []Marker    `json:"markers"`
	Highlights []Highlight `json:"highlights,omitempty"`
}

const (
	// constraintScale sizes the pull connector relative to the model.
	constraintScale = 0.1
	defaultMeanSize = 0.05
	// dimTrigger darkens a controller whose trigger is released.
	dimTrigger = 0.5
)

type meanSizer interface {
	MeanSize() float64
}

// Markers describes the controller decorations for the current state.
// Marker sizes shrink as the scene grows so they keep their room size.
func (s *Session) Markers(sm sim.Sim) Overlay {
	now := s.now()
	meanSize := defaultMeanSize
	if ms, ok := sm.(meanSizer); ok {
		meanSize = ms.MeanSize()
	}
	scale := s.scene.Scale

	var o Overlay
	for n := 0; n < s.present; n++ {
		h := &s.hands[n]
		base := handColors[n]

		dim := dimTrigger
		if h.holding(vr.ButtonTrigger) {
			dim = 1
		}
		m := Marker{
			Kind:  MarkerBox,
			Pos:   h.target.Pos,
			Mat:   spatial.MatFromQuat(h.target.Rot),
			Size:  [3]float64{0.03 / scale, 0.02 / scale, 0.04 / scale},
			Color: RGBA{base[0] * dim, base[1] * dim, base[2] * dim, base[3]},
			Label: h.activeMessage(now),
		}
		if h.tool == ToolMove {
			m.Kind = MarkerArrow
			m.Size = [3]float64{0.01 / scale, 0.01 / scale, 0.08 / scale}
		}
		o.Markers = append(o.Markers, m)

		if h.tool == ToolPull && h.body > 0 {
			o.Markers = append(o.Markers, connector(h.target.Pos, sm.BodyInertialPose(h.body).Pos, meanSize, base))
		}

		if h.body > 0 {
			o.Highlights = s.highlight(o.Highlights, n)
		}
	}
	return o
}

func connector(from, to r3.Vector, meanSize float64, c RGBA) Marker {
	width := 0.5 * constraintScale * meanSize
	return Marker{
		Kind:  MarkerCapsule,
		Pos:   from.Add(to).Mul(0.5),
		Mat:   spatial.MatFromQuat(spatial.QuatZToVec(to.Sub(from))),
		Size:  [3]float64{width, width, 0.5 * from.Distance(to)},
		Color: RGBA{c[0], c[1], c[2], 1},
	}
}

// highlight adds the selection colour of controller n. When both valid
// controllers select the same body it gets the sum of their colours, once.
func (s *Session) highlight(hs []Highlight, n int) []Highlight {
	h := &s.hands[n]
	if s.present == 2 && s.hands[0].valid && s.hands[1].valid && s.hands[0].body == s.hands[1].body {
		for _, existing := range hs {
			if existing.Body == h.body {
				return hs
			}
		}
		a, b := handColors[0], handColors[1]
		return append(hs, Highlight{Body: h.body, RGB: [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}})
	}
	c := handColors[n]
	return append(hs, Highlight{Body: h.body, RGB: [3]float64{c[0], c[1], c[2]}})
}
