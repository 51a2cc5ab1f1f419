package glove

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/gwillem/vrglove/pkg/calibration"
)

// Replay plays back recorded glove readings, one column per reading, and
// wraps around at the end.
type Replay struct {
	mu      sync.Mutex
	samples *mat.Dense
	next    int
}

// NewReplay returns a source over samples (sensors x readings).
func NewReplay(samples mat.Matrix) (*Replay, error) {
	_, c := samples.Dims()
	if c == 0 {
		return nil, fmt.Errorf("replay: no samples")
	}
	return &Replay{samples: mat.DenseCopyOf(samples)}, nil
}

// OpenReplay loads a glove values CSV written by the calibration utility.
func OpenReplay(path string) (*Replay, error) {
	m, err := calibration.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}
	return NewReplay(m)
}

// NumSensors returns the number of recorded sensors.
func (r *Replay) NumSensors() int {
	n, _ := r.samples.Dims()
	return n
}

// ReadRaw returns the next recorded reading.
func (r *Replay) ReadRaw(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, c := r.samples.Dims()
	out := mat.Col(nil, r.next, r.samples)
	r.next = (r.next + 1) % c
	return out, nil
}

// Close is a no-op.
func (r *Replay) Close() error {
	return nil
}
