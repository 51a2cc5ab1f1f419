// Package spatial provides the rigid-body pose arithmetic shared by the
// teleoperation loop and the simulator boundary.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// minNorm is the threshold below which a vector or quaternion is treated as zero.
const minNorm = 1e-15

// Identity is the identity rotation.
var Identity = quat.Number{Real: 1}

// Pose is a position plus a unit quaternion orientation.
type Pose struct {
	Pos r3.Vector
	Rot quat.Number
}

// NewPose returns a pose with identity rotation at the given position.
func NewPose(x, y, z float64) Pose {
	return Pose{Pos: r3.Vector{X: x, Y: y, Z: z}, Rot: Identity}
}

// Mul composes two poses: the result maps b's frame through a.
func Mul(a, b Pose) Pose {
	return Pose{
		Pos: a.Pos.Add(Rotate(a.Rot, b.Pos)),
		Rot: quat.Mul(a.Rot, b.Rot),
	}
}

// Inverse returns the pose that undoes p.
func Inverse(p Pose) Pose {
	neg := quat.Conj(p.Rot)
	return Pose{
		Pos: Rotate(neg, p.Pos).Mul(-1),
		Rot: neg,
	}
}

// Rotate rotates v by the unit quaternion q.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Normalize scales q to unit length. A zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < minNorm {
		return Identity
	}
	return quat.Scale(1/n, q)
}

// AxisAngle returns the rotation of angle radians about axis.
func AxisAngle(axis r3.Vector, angle float64) quat.Number {
	s := math.Sin(angle / 2)
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// QuatToVel converts a rotation into the angular velocity that produces it
// over dt seconds. Angles above pi wrap to the short way round.
func QuatToVel(q quat.Number, dt float64) r3.Vector {
	axis := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := axis.Norm()
	if sinHalf < minNorm {
		return r3.Vector{}
	}
	speed := 2 * math.Atan2(sinHalf, q.Real)
	if speed > math.Pi {
		speed -= 2 * math.Pi
	}
	return axis.Mul(speed / (sinHalf * dt))
}

// QuatZToVec returns the rotation that maps the z axis onto vec.
func QuatZToVec(vec r3.Vector) quat.Number {
	n := vec.Norm()
	if n < minNorm {
		return Identity
	}
	v := vec.Mul(1 / n)
	z := r3.Vector{Z: 1}
	axis := z.Cross(v)
	s := axis.Norm()
	if s < minNorm {
		// parallel or anti-parallel
		if v.Z < 0 {
			return quat.Number{Imag: 1}
		}
		return Identity
	}
	return AxisAngle(axis.Mul(1/s), math.Atan2(s, v.Z))
}

// QuatFromMat converts a row-major 3x3 rotation matrix to a unit quaternion
// with non-negative real part.
func QuatFromMat(m [9]float64) quat.Number {
	cm := mgl64.Mat3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
	q := mgl64.Mat4ToQuat(cm.Mat4()).Normalize()
	out := quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
	if out.Real < 0 {
		out = quat.Scale(-1, out)
	}
	return out
}

// MatFromQuat converts a unit quaternion to a row-major 3x3 rotation matrix.
func MatFromQuat(q quat.Number) [9]float64 {
	m := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Mat4().Mat3()
	var out [9]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[3*row+col] = m.At(row, col)
		}
	}
	return out
}

// MulMatMatT returns a·bᵀ for row-major 3x3 matrices.
func MulMatMatT(a, b [9]float64) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[3*i+j] += a[3*i+k] * b[3*j+k]
			}
		}
	}
	return out
}
