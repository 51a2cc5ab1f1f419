package calibration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// DefaultSamplesPerPose is the number of glove readings taken per pose.
const DefaultSamplesPerPose = 100

// maxReadFailures aborts a capture after this many consecutive bad readings.
const maxReadFailures = 10

// Sampler produces raw glove readings.
type Sampler interface {
	ReadRaw(ctx context.Context) ([]float64, error)
}

// Result holds a fitted calibration and the matrices it was computed from.
type Result struct {
	Calibration *Calibration
	TrueValues  *mat.Dense
	TrueN       *mat.Dense
	GloveValues *mat.Dense
	GloveN      *mat.Dense
	Residuals   map[string]float64
}

// Session walks through one calibration run: range exploration, per-pose
// capture and the final fit.
type Session struct {
	Tracker *RangeTracker
	// Settle is waited before range exploration; the first glove readings
	// after connecting can be stale.
	Settle time.Duration
	// OnSample, when set, sees every reading taken during range exploration.
	OnSample func(sample []float64)

	sensors        int
	handRange      *mat.Dense
	groups         []FingerGroup
	logger         *zap.Logger
	jointPoses     *mat.Dense
	samples        *mat.Dense
	samplesPerPose int
}

// NewSession creates a session for a glove with the given sensor count.
// handRange is joints x 2 (actuator control ranges).
func NewSession(sensors int, handRange mat.Matrix, groups []FingerGroup, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Tracker:   NewRangeTracker(sensors),
		Settle:    time.Second,
		sensors:   sensors,
		handRange: mat.DenseCopyOf(handRange),
		groups:    groups,
		logger:    logger,
	}
}

// HandRange returns the actuator ranges the session was created with.
func (s *Session) HandRange() *mat.Dense {
	return s.handRange
}

// Observe feeds one reading into the range tracker.
func (s *Session) Observe(sample []float64) error {
	return s.Tracker.Observe(sample)
}

// ExploreRanges samples src for d while the user moves through the full
// range of every joint.
func (s *Session) ExploreRanges(ctx context.Context, src Sampler, d time.Duration) error {
	s.logger.Info("exploring glove ranges", zap.Duration("duration", d))

	if s.Settle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Settle):
		}
	}

	stop := time.Now().Add(d)
	failures := 0
	for time.Now().Before(stop) {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample, err := s.read(ctx, src, &failures)
		if err != nil {
			return err
		}
		if sample == nil {
			continue
		}
		if err := s.Tracker.Observe(sample); err != nil {
			return err
		}
		if s.OnSample != nil {
			s.OnSample(sample)
		}
	}

	s.logger.Debug("glove ranges captured", zap.String("ranges", fmt.Sprintf("%v", mat.Formatted(s.Tracker.Ranges(), mat.Squeeze()))))
	return nil
}

// Capture prompts for every pose and records samplesPerPose readings of
// each. jointPoses is poses x joints in actuator space. prompt blocks until
// the user is holding the pose; a prompt error aborts the capture.
func (s *Session) Capture(ctx context.Context, src Sampler, jointPoses mat.Matrix, samplesPerPose int, prompt func(pose int) error) error {
	if samplesPerPose <= 0 {
		samplesPerPose = DefaultSamplesPerPose
	}
	nPoses, _ := jointPoses.Dims()
	samples := mat.NewDense(s.sensors, nPoses*samplesPerPose, nil)

	failures := 0
	for i := 0; i < nPoses; i++ {
		if prompt != nil {
			if err := prompt(i); err != nil {
				return fmt.Errorf("pose %d: %w", i, err)
			}
		}

		for j := 0; j < samplesPerPose; {
			sample, err := s.read(ctx, src, &failures)
			if err != nil {
				return fmt.Errorf("pose %d: %w", i, err)
			}
			if sample == nil {
				continue
			}
			if err := s.Tracker.Observe(sample); err != nil {
				return err
			}
			samples.SetCol(i*samplesPerPose+j, sample)
			j++
		}
		s.logger.Info("captured pose", zap.Int("pose", i), zap.Int("samples", samplesPerPose))
	}

	s.jointPoses = mat.DenseCopyOf(jointPoses)
	s.samples = samples
	s.samplesPerPose = samplesPerPose
	return nil
}

// SetCaptured installs previously stored glove samples and ranges in place
// of a live capture.
func (s *Session) SetCaptured(jointPoses, samples, ranges mat.Matrix, samplesPerPose int) error {
	nPoses, _ := jointPoses.Dims()
	r, c := samples.Dims()
	if r != s.sensors || c != nPoses*samplesPerPose {
		return fmt.Errorf("%w: samples %dx%d, want %dx%d", ErrShape, r, c, s.sensors, nPoses*samplesPerPose)
	}
	s.jointPoses = mat.DenseCopyOf(jointPoses)
	s.samples = mat.DenseCopyOf(samples)
	s.samplesPerPose = samplesPerPose
	s.Tracker.Reset(ranges)
	return nil
}

// Files in a capture dump that LoadCaptured reads back.
const (
	DumpGloveValues = "gloveValues.csv"
	DumpUserRange   = "userRange.csv"
)

// LoadCaptured installs the glove readings and ranges of an earlier run
// dumped to dir, so the fit can be redone without the glove. The samples
// per pose follow from the number of readings.
func (s *Session) LoadCaptured(dir string, jointPoses mat.Matrix) error {
	samples, err := ReadCSVFile(filepath.Join(dir, DumpGloveValues))
	if err != nil {
		return err
	}
	ranges, err := ReadCSVFile(filepath.Join(dir, DumpUserRange))
	if err != nil {
		return err
	}

	nPoses, _ := jointPoses.Dims()
	_, c := samples.Dims()
	if nPoses == 0 || c%nPoses != 0 {
		return fmt.Errorf("%w: %d readings do not split over %d poses", ErrShape, c, nPoses)
	}
	if r, _ := ranges.Dims(); r != s.sensors {
		return fmt.Errorf("%w: %d ranges for %d sensors", ErrShape, r, s.sensors)
	}
	return s.SetCaptured(jointPoses, samples, ranges, c/nPoses)
}

// Samples returns the captured glove readings (sensors x samples).
func (s *Session) Samples() *mat.Dense {
	return s.samples
}

// Compute fits the calibration from the captured data.
func (s *Session) Compute() (*Result, error) {
	if s.samples == nil {
		return nil, errors.New("compute calibration: nothing captured")
	}

	trueValues := TrueValues(s.jointPoses, s.samplesPerPose)
	trueN, err := Normalize(trueValues, s.handRange)
	if err != nil {
		return nil, fmt.Errorf("normalize true values: %w", err)
	}

	userRange := s.Tracker.Ranges()
	gloveN, err := Normalize(s.samples, userRange)
	if err != nil {
		return nil, fmt.Errorf("normalize glove values: %w", err)
	}

	m, err := Solve(trueN, gloveN, s.groups)
	if err != nil {
		return nil, err
	}

	return &Result{
		Calibration: &Calibration{
			Matrix:    m,
			UserRange: userRange,
			HandRange: mat.DenseCopyOf(s.handRange),
		},
		TrueValues:  trueValues,
		TrueN:       trueN,
		GloveValues: s.samples,
		GloveN:      gloveN,
		Residuals:   Residuals(m, trueN, gloveN, s.groups),
	}, nil
}

// read returns nil, nil for a tolerated failed reading.
func (s *Session) read(ctx context.Context, src Sampler, failures *int) ([]float64, error) {
	sample, err := src.ReadRaw(ctx)
	if err == nil {
		*failures = 0
		return sample, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	*failures++
	if *failures >= maxReadFailures {
		return nil, fmt.Errorf("glove read failed %d times: %w", *failures, err)
	}
	s.logger.Warn("glove read failed", zap.Error(err))
	return nil, nil
}
