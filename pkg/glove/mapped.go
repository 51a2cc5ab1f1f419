package glove

import (
	"context"
	"fmt"

	"github.com/gwillem/vrglove/pkg/calibration"
)

// Mapped turns raw glove readings into actuator commands using a fitted
// calibration.
type Mapped struct {
	src   Source
	calib *calibration.Calibration
}

// NewMapped checks that the calibration fits the source.
func NewMapped(src Source, calib *calibration.Calibration) (*Mapped, error) {
	if calib.NumSensors() != src.NumSensors() {
		return nil, fmt.Errorf("calibration expects %d sensors, glove has %d", calib.NumSensors(), src.NumSensors())
	}
	return &Mapped{src: src, calib: calib}, nil
}

// NumActuators returns the number of commands produced per reading.
func (m *Mapped) NumActuators() int {
	return m.calib.NumJoints()
}

// Read returns the raw reading and the actuator commands derived from it.
func (m *Mapped) Read(ctx context.Context) (raw, ctrl []float64, err error) {
	raw, err = m.src.ReadRaw(ctx)
	if err != nil {
		return nil, nil, err
	}
	ctrl, err = m.calib.Apply(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, ctrl, nil
}

// ReadCtrl returns actuator commands for the current glove pose.
func (m *Mapped) ReadCtrl(ctx context.Context) ([]float64, error) {
	_, ctrl, err := m.Read(ctx)
	return ctrl, err
}

// Close closes the underlying source.
func (m *Mapped) Close() error {
	return m.src.Close()
}
