// Package glove provides data glove sources: a serial CyberGlove driver, a
// replay source for recorded sessions, and a calibrated mapping onto
// simulator actuator commands.
package glove

import (
	"context"
	"errors"
)

// DefaultSensors is the sensor count of a 22-sensor CyberGlove.
const DefaultSensors = 22

// ErrFraming is returned when a glove reply does not match the expected record layout.
var ErrFraming = errors.New("glove: bad record framing")

// Source produces raw glove sensor readings.
type Source interface {
	// ReadRaw returns one reading per sensor.
	ReadRaw(ctx context.Context) ([]float64, error)
	NumSensors() int
	Close() error
}
