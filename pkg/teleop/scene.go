package teleop

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/vrglove/pkg/spatial"
)

const (
	minScale = 0.01
	maxScale = 100.0
)

// Scene places the model in the room: a model point p appears at
// Translate + Rotate(p)*Scale.
type Scene struct {
	Translate r3.Vector
	Rotate    quat.Number
	Scale     float64
}

// DefaultScene puts the model half a metre below and in front of the room
// origin, with model z pointing up.
func DefaultScene() Scene {
	return Scene{
		Translate: r3.Vector{Y: -0.5, Z: -0.5},
		Rotate:    quat.Number{Real: math.Cos(-math.Pi / 4), Imag: math.Sin(-math.Pi / 4)},
		Scale:     1,
	}
}

// RoomToModel maps a room-space pose into model space.
func (s Scene) RoomToModel(room spatial.Pose) spatial.Pose {
	inv := quat.Conj(s.Rotate)
	return spatial.Pose{
		Pos: spatial.Rotate(inv, room.Pos.Sub(s.Translate)).Mul(1 / s.Scale),
		Rot: quat.Mul(inv, room.Rot),
	}
}

// ModelToRoom is the inverse of RoomToModel.
func (s Scene) ModelToRoom(model spatial.Pose) spatial.Pose {
	return spatial.Pose{
		Pos: spatial.Rotate(s.Rotate, model.Pos.Mul(s.Scale)).Add(s.Translate),
		Rot: quat.Mul(s.Rotate, model.Rot),
	}
}

// zoom applies a pad swipe of dy to the scale. Larger scenes zoom faster.
func (s *Scene) zoom(dy float64) {
	s.Scale += math.Log(1+s.Scale/3) * dy
	s.Scale = min(max(s.Scale, minScale), maxScale)
}

// spin rotates the scene by angle about the room y axis through pivot.
func (s *Scene) spin(angle float64, pivot r3.Vector) {
	s.Rotate = spatial.Normalize(quat.Mul(spatial.AxisAngle(r3.Vector{Y: 1}, angle), s.Rotate))

	dx := s.Translate.X - pivot.X
	dz := s.Translate.Z - pivot.Z
	ca, sa := math.Cos(angle), math.Sin(angle)
	s.Translate.X = pivot.X + dx*ca + dz*sa
	s.Translate.Z = pivot.Z - dx*sa + dz*ca
}
