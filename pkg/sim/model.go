package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Model describes a Kinematic world.
type Model struct {
	Timestep float64 `yaml:"timestep"`
	// PerturbGain is the rate (1/s) at which dragged bodies close the gap to
	// their target; JointGain does the same for actuated joints.
	PerturbGain float64         `yaml:"perturb_gain"`
	JointGain   float64         `yaml:"joint_gain"`
	MeanSize    float64         `yaml:"meansize"`
	Bodies      []BodyModel     `yaml:"bodies"`
	Actuators   []ActuatorModel `yaml:"actuators"`
	Keyframes   []Keyframe      `yaml:"keyframes"`
}

// BodyModel is one rigid body. Bodies without Free stay where they are put.
type BodyModel struct {
	Name  string     `yaml:"name"`
	Pos   [3]float64 `yaml:"pos"`
	Quat  []float64  `yaml:"quat"`
	IPos  [3]float64 `yaml:"ipos"`
	IQuat []float64  `yaml:"iquat"`
	Free  bool       `yaml:"free"`
}

// ActuatorModel is one position-controlled joint.
type ActuatorModel struct {
	Name      string     `yaml:"name"`
	CtrlRange [2]float64 `yaml:"ctrlrange"`
}

// Keyframe is a named reset state.
type Keyframe struct {
	Name   string               `yaml:"name"`
	Ctrl   []float64            `yaml:"ctrl"`
	Bodies map[string]BodyPlace `yaml:"bodies"`
}

// BodyPlace overrides a body pose in a keyframe.
type BodyPlace struct {
	Pos  [3]float64 `yaml:"pos"`
	Quat []float64  `yaml:"quat"`
}

// LoadModel reads a model description from a YAML file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes and validates a YAML model description.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if m.Timestep <= 0 {
		m.Timestep = 0.002
	}
	if m.PerturbGain <= 0 {
		m.PerturbGain = 50
	}
	if m.JointGain <= 0 {
		m.JointGain = 100
	}
	if m.MeanSize <= 0 {
		m.MeanSize = 0.05
	}

	seen := make(map[string]bool)
	for i, b := range m.Bodies {
		if b.Name == "" || b.Name == worldName {
			return nil, fmt.Errorf("body %d: invalid name %q", i+1, b.Name)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("body %q defined twice", b.Name)
		}
		seen[b.Name] = true
		if err := checkQuat(b.Quat); err != nil {
			return nil, fmt.Errorf("body %q quat: %w", b.Name, err)
		}
		if err := checkQuat(b.IQuat); err != nil {
			return nil, fmt.Errorf("body %q iquat: %w", b.Name, err)
		}
	}
	for _, a := range m.Actuators {
		if a.CtrlRange[0] > a.CtrlRange[1] {
			return nil, fmt.Errorf("actuator %q: ctrlrange min above max", a.Name)
		}
	}
	for _, k := range m.Keyframes {
		if k.Ctrl != nil && len(k.Ctrl) != len(m.Actuators) {
			return nil, fmt.Errorf("keyframe %q: %d ctrl values for %d actuators", k.Name, len(k.Ctrl), len(m.Actuators))
		}
		for name := range k.Bodies {
			if !seen[name] {
				return nil, fmt.Errorf("keyframe %q: unknown body %q", k.Name, name)
			}
		}
	}
	return &m, nil
}

func checkQuat(q []float64) error {
	if q != nil && len(q) != 4 {
		return fmt.Errorf("need 4 values, got %d", len(q))
	}
	return nil
}
