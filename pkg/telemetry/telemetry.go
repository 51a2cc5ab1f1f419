// Package telemetry publishes teleoperation state to outside observers:
// an MQTT topic and a websocket hub with a JSON snapshot endpoint.
package telemetry

import (
	"go.uber.org/multierr"
)

// Publisher accepts JSON-encodable state snapshots.
type Publisher interface {
	Publish(state any) error
	Close() error
}

type multi []Publisher

// Multi fans out to every publisher and combines their errors.
func Multi(pubs ...Publisher) Publisher {
	return multi(pubs)
}

func (m multi) Publish(state any) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(state))
	}
	return err
}

func (m multi) Close() error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Close())
	}
	return err
}
