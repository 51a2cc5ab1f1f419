package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/vrglove/pkg/spatial"
)

const worldName = "world"

type body struct {
	name    string
	free    bool
	pose    spatial.Pose // body frame in model space
	inertia spatial.Pose // inertial frame relative to body frame
	linVel  r3.Vector
	angVel  r3.Vector
}

// Kinematic is a simulator without contact dynamics. Free bodies follow
// perturbations with a first-order lag and every actuator drives one joint
// toward its clamped control value.
type Kinematic struct {
	model  *Model
	logger *zap.Logger

	bodies  []body // index 0 is the world body
	ctrl    []float64
	qjoint  []float64
	vjoint  []float64
	targets map[int]spatial.Pose
	time    float64
	names   string
}

// NewKinematic builds a simulator for m in its reset state.
func NewKinematic(m *Model, logger *zap.Logger) *Kinematic {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Kinematic{
		model:   m,
		logger:  logger,
		bodies:  make([]body, len(m.Bodies)+1),
		ctrl:    make([]float64, len(m.Actuators)),
		qjoint:  make([]float64, len(m.Actuators)),
		vjoint:  make([]float64, len(m.Actuators)),
		targets: make(map[int]spatial.Pose),
	}

	names := []string{worldName}
	k.bodies[0] = body{name: worldName, pose: spatial.Pose{Rot: spatial.Identity}, inertia: spatial.Pose{Rot: spatial.Identity}}
	for i, b := range m.Bodies {
		k.bodies[i+1] = body{
			name:    b.Name,
			free:    b.Free,
			inertia: spatial.Pose{Pos: vec(b.IPos), Rot: quatOf(b.IQuat)},
		}
		names = append(names, b.Name)
	}
	for _, a := range m.Actuators {
		names = append(names, a.Name)
	}
	k.names = strings.Join(names, "\x00") + "\x00"

	k.Reset()
	return k
}

// OpenKinematic loads a YAML model and builds a simulator for it.
func OpenKinematic(path string, logger *zap.Logger) (*Kinematic, error) {
	m, err := LoadModel(path)
	if err != nil {
		return nil, err
	}
	return NewKinematic(m, logger), nil
}

// Model returns the model the simulator was built from.
func (k *Kinematic) Model() *Model { return k.model }

func (k *Kinematic) NumBodies() int { return len(k.bodies) }

func (k *Kinematic) BodyName(id int) string {
	if id < 0 || id >= len(k.bodies) {
		return ""
	}
	return k.bodies[id].name
}

// BodyID returns -1 when no body has the given name.
func (k *Kinematic) BodyID(name string) int {
	for i, b := range k.bodies {
		if b.name == name {
			return i
		}
	}
	return -1
}

func (k *Kinematic) BodyInertialPose(id int) spatial.Pose {
	b := k.bodies[id]
	return spatial.Mul(b.pose, b.inertia)
}

func (k *Kinematic) NumActuators() int { return len(k.model.Actuators) }

func (k *Kinematic) ActuatorName(id int) string {
	if id < 0 || id >= len(k.model.Actuators) {
		return ""
	}
	return k.model.Actuators[id].Name
}

func (k *Kinematic) ActuatorID(name string) int {
	for i, a := range k.model.Actuators {
		if a.Name == name {
			return i
		}
	}
	return -1
}

func (k *Kinematic) CtrlRange(id int) (lo, hi float64) {
	r := k.model.Actuators[id].CtrlRange
	return r[0], r[1]
}

func (k *Kinematic) Ctrl(id int) float64 { return k.ctrl[id] }

func (k *Kinematic) SetCtrl(id int, v float64) { k.ctrl[id] = v }

// JointPos returns the position of the joint driven by actuator id.
func (k *Kinematic) JointPos(id int) float64 { return k.qjoint[id] }

func (k *Kinematic) ClearPerturbations() { clear(k.targets) }

// Perturb ignores the world body and bodies that are not free.
func (k *Kinematic) Perturb(id int, target spatial.Pose) {
	if id <= 0 || id >= len(k.bodies) || !k.bodies[id].free {
		return
	}
	k.targets[id] = target
}

func (k *Kinematic) Step() error {
	dt := k.model.Timestep

	for i := range k.ctrl {
		lo, hi := k.CtrlRange(i)
		if math.IsNaN(k.ctrl[i]) {
			return fmt.Errorf("actuator %q: control is NaN", k.model.Actuators[i].Name)
		}
		k.ctrl[i] = min(max(k.ctrl[i], lo), hi)
	}

	ja := gain(k.model.JointGain, dt)
	for i := range k.qjoint {
		dq := ja * (k.ctrl[i] - k.qjoint[i])
		k.qjoint[i] += dq
		k.vjoint[i] = dq / dt
	}

	pa := gain(k.model.PerturbGain, dt)
	for id := range k.bodies {
		b := &k.bodies[id]
		target, ok := k.targets[id]
		if !ok {
			b.linVel, b.angVel = r3.Vector{}, r3.Vector{}
			continue
		}
		// Desired body frame is the target inertial frame minus the inertial offset.
		want := spatial.Mul(target, spatial.Inverse(b.inertia))
		dp := want.Pos.Sub(b.pose.Pos).Mul(pa)
		next := nlerp(b.pose.Rot, want.Rot, pa)

		b.linVel = dp.Mul(1 / dt)
		b.angVel = spatial.QuatToVel(quat.Mul(next, quat.Conj(b.pose.Rot)), dt)
		b.pose.Pos = b.pose.Pos.Add(dp)
		b.pose.Rot = next
	}

	k.time += dt
	return nil
}

func (k *Kinematic) Reset() {
	for i, b := range k.model.Bodies {
		k.bodies[i+1].pose = spatial.Pose{Pos: vec(b.Pos), Rot: quatOf(b.Quat)}
		k.bodies[i+1].linVel, k.bodies[i+1].angVel = r3.Vector{}, r3.Vector{}
	}
	clear(k.ctrl)
	if len(k.model.Keyframes) > 0 {
		key := k.model.Keyframes[0]
		copy(k.ctrl, key.Ctrl)
		for name, place := range key.Bodies {
			id := k.BodyID(name)
			k.bodies[id].pose = spatial.Pose{Pos: vec(place.Pos), Rot: quatOf(place.Quat)}
		}
	}
	copy(k.qjoint, k.ctrl)
	clear(k.vjoint)
	clear(k.targets)
	k.time = 0
	k.logger.Debug("simulation reset", zap.Int("keyframes", len(k.model.Keyframes)))
}

func (k *Kinematic) Time() float64 { return k.time }

func (k *Kinematic) Timestep() float64 { return k.model.Timestep }

// MeanSize is the characteristic body size used to scale markers.
func (k *Kinematic) MeanSize() float64 { return k.model.MeanSize }

func (k *Kinematic) freeBodies() int {
	n := 0
	for _, b := range k.bodies {
		if b.free {
			n++
		}
	}
	return n
}

// Dims counts 7 position and 6 velocity coordinates per free body plus one
// of each per actuated joint.
func (k *Kinematic) Dims() Dims {
	nf, nu := k.freeBodies(), len(k.ctrl)
	return Dims{NQ: 7*nf + nu, NV: 6*nf + nu, NU: nu}
}

func (k *Kinematic) Names() string { return k.names }

func (k *Kinematic) Snapshot() Snapshot {
	d := k.Dims()
	s := Snapshot{
		Time: k.time,
		QPos: make([]float64, 0, d.NQ),
		QVel: make([]float64, 0, d.NV),
		Ctrl: append([]float64(nil), k.ctrl...),
	}
	for _, b := range k.bodies {
		if !b.free {
			continue
		}
		p, q := b.pose.Pos, b.pose.Rot
		s.QPos = append(s.QPos, p.X, p.Y, p.Z, q.Real, q.Imag, q.Jmag, q.Kmag)
		s.QVel = append(s.QVel, b.linVel.X, b.linVel.Y, b.linVel.Z, b.angVel.X, b.angVel.Y, b.angVel.Z)
	}
	s.QPos = append(s.QPos, k.qjoint...)
	s.QVel = append(s.QVel, k.vjoint...)
	return s
}

func gain(rate, dt float64) float64 {
	return min(1, rate*dt)
}

// nlerp blends two unit quaternions along the shorter arc.
func nlerp(a, b quat.Number, t float64) quat.Number {
	if a.Real*b.Real+a.Imag*b.Imag+a.Jmag*b.Jmag+a.Kmag*b.Kmag < 0 {
		b = quat.Scale(-1, b)
	}
	return spatial.Normalize(quat.Add(quat.Scale(1-t, a), quat.Scale(t, b)))
}

func vec(v [3]float64) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// quatOf reads a w,x,y,z list; an empty list is the identity.
func quatOf(q []float64) quat.Number {
	if len(q) != 4 {
		return spatial.Identity
	}
	return spatial.Normalize(quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]})
}

var _ Sim = (*Kinematic)(nil)
