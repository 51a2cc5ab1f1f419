package calibration

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// File suffixes written by Save.
const (
	SuffixCalib     = ".calib"
	SuffixUserRange = ".userRange"
	SuffixHandRange = ".handRange"
)

// ErrShape is returned when matrices loaded from disk do not fit together.
var ErrShape = errors.New("calibration: inconsistent matrix shapes")

// Calibration is a fitted glove-to-hand mapping.
type Calibration struct {
	// Matrix is joints x (sensors+1); the last column is the bias.
	Matrix *mat.Dense
	// UserRange is sensors x 2 (min, max) of raw glove readings.
	UserRange *mat.Dense
	// HandRange is joints x 2 (min, max) of actuator control ranges.
	HandRange *mat.Dense
}

// NumSensors returns the number of glove sensors the calibration expects.
func (c *Calibration) NumSensors() int {
	_, cols := c.Matrix.Dims()
	return cols - 1
}

// NumJoints returns the number of actuator commands the calibration produces.
func (c *Calibration) NumJoints() int {
	r, _ := c.Matrix.Dims()
	return r
}

func (c *Calibration) validate() error {
	joints, cols := c.Matrix.Dims()
	ur, uc := c.UserRange.Dims()
	hr, hc := c.HandRange.Dims()
	if cols-1 != ur || uc != 2 || hr != joints || hc != 2 {
		return fmt.Errorf("%w: calib %dx%d, user range %dx%d, hand range %dx%d",
			ErrShape, joints, cols, ur, uc, hr, hc)
	}
	return nil
}

// Apply maps one raw glove reading to actuator commands: the reading is
// normalized by the user range, run through the linear model and scaled into
// the hand range, clamped to it.
func (c *Calibration) Apply(raw []float64) ([]float64, error) {
	sensors := c.NumSensors()
	if len(raw) != sensors {
		return nil, fmt.Errorf("apply calibration: %d readings, want %d", len(raw), sensors)
	}

	x := mat.NewVecDense(sensors+1, nil)
	for i, v := range raw {
		lo, hi := c.UserRange.At(i, 0), c.UserRange.At(i, 1)
		if hi != lo {
			x.SetVec(i, (v-lo)/(hi-lo))
		}
	}
	x.SetVec(sensors, 1)

	var y mat.VecDense
	y.MulVec(c.Matrix, x)

	out := make([]float64, y.Len())
	for j := range out {
		lo, hi := c.HandRange.At(j, 0), c.HandRange.At(j, 1)
		v := lo + y.AtVec(j)*(hi-lo)
		out[j] = min(max(v, lo), hi)
	}
	return out, nil
}

// Save writes prefix.calib, prefix.userRange and prefix.handRange. Range
// files hold the transposed ranges: a min row followed by a max row.
func (c *Calibration) Save(prefix string) error {
	if err := c.validate(); err != nil {
		return err
	}
	files := []struct {
		suffix string
		m      mat.Matrix
	}{
		{SuffixHandRange, c.HandRange.T()},
		{SuffixUserRange, c.UserRange.T()},
		{SuffixCalib, c.Matrix},
	}
	for _, f := range files {
		if err := writeMatrixFile(prefix+f.suffix, f.m); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a calibration written by Save.
func Load(calibFile, userRangeFile, handRangeFile string) (*Calibration, error) {
	m, err := readMatrixFile(calibFile)
	if err != nil {
		return nil, err
	}
	user, err := readMatrixFile(userRangeFile)
	if err != nil {
		return nil, err
	}
	hand, err := readMatrixFile(handRangeFile)
	if err != nil {
		return nil, err
	}

	c := &Calibration{
		Matrix:    m,
		UserRange: mat.DenseCopyOf(user.T()),
		HandRange: mat.DenseCopyOf(hand.T()),
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadPrefix reads the three files written by Save(prefix).
func LoadPrefix(prefix string) (*Calibration, error) {
	return Load(prefix+SuffixCalib, prefix+SuffixUserRange, prefix+SuffixHandRange)
}

func writeMatrixFile(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteMatrix(f, m, " "); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readMatrixFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := ReadMatrix(f, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// WriteMatrix writes one matrix row per line with values joined by sep.
func WriteMatrix(w io.Writer, m mat.Matrix, sep string) error {
	bw := bufio.NewWriter(w)
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				bw.WriteString(sep)
			}
			bw.WriteString(strconv.FormatFloat(m.At(i, j), 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadMatrix parses one matrix row per line. split breaks a line into cells;
// nil splits on whitespace. Blank lines are skipped.
func ReadMatrix(r io.Reader, split func(string) []string) (*mat.Dense, error) {
	if split == nil {
		split = strings.Fields
	}

	var (
		data []float64
		rows int
		cols = -1
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cells := split(line)
		if cols >= 0 && len(cells) != cols {
			return nil, fmt.Errorf("%w: line %d has %d values, want %d", ErrShape, rows+1, len(cells), cols)
		}
		cols = len(cells)
		for _, cell := range cells {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", rows+1, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrShape)
	}
	return mat.NewDense(rows, cols, data), nil
}
