// Package calibration maps raw data glove readings onto simulator actuator
// ranges. A user mimics a set of reference hand poses while the glove is
// sampled; a linear model with a bias term is then fitted independently for
// each finger group.
package calibration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Poses holds reference hand poses, one row per pose and one column per joint.
type Poses struct {
	Values *mat.Dense
	Joints []string
}

// NumPoses returns the number of reference poses.
func (p *Poses) NumPoses() int {
	r, _ := p.Values.Dims()
	return r
}

// NumJoints returns the number of joints per pose.
func (p *Poses) NumJoints() int {
	_, c := p.Values.Dims()
	return c
}

// LoadPosesFile reads a poses CSV from disk.
func LoadPosesFile(path string) (*Poses, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open poses file: %w", err)
	}
	defer f.Close()
	return LoadPoses(f)
}

// LoadPoses parses a poses CSV. Every line describes one joint across all
// poses; non-numeric cells are taken as joint names. Reading stops at the
// first line with fewer than two cells.
func LoadPoses(r io.Reader) (*Poses, error) {
	var (
		joints []string
		rows   [][]float64
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cells := strings.Split(strings.TrimRight(sc.Text(), "\r"), ",")
		if len(cells) < 2 {
			break
		}

		var values []float64
		for _, cell := range cells {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if !isNumeric(cell) {
				joints = append(joints, cell)
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("poses line %d: %w", len(rows)+1, err)
			}
			values = append(values, v)
		}
		if len(rows) > 0 && len(values) != len(rows[0]) {
			return nil, fmt.Errorf("poses line %d: %d values, want %d", len(rows)+1, len(values), len(rows[0]))
		}
		rows = append(rows, values)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read poses: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("read poses: no pose values")
	}

	// rows are joints; store poses as rows
	nPoses, nJoints := len(rows[0]), len(rows)
	values := mat.NewDense(nPoses, nJoints, nil)
	for j, row := range rows {
		for i, v := range row {
			values.Set(i, j, v)
		}
	}

	return &Poses{Values: values, Joints: joints}, nil
}

func isNumeric(cell string) bool {
	return strings.Trim(cell, "-.0123456789") == ""
}

// Remap shifts and scales v from [oldMin, oldMax] to [newMin, newMax].
func Remap(v, oldMin, oldMax, newMin, newMax float64) float64 {
	return newMin + (v-oldMin)*(newMax-newMin)/(oldMax-oldMin)
}

// PosesToJoints maps pose values from [-1, 1] onto each joint's range.
// handRange has one row per joint with min and max columns.
func PosesToJoints(poses, handRange mat.Matrix) (*mat.Dense, error) {
	r, c := poses.Dims()
	nr, _ := handRange.Dims()
	if c > nr {
		return nil, fmt.Errorf("poses have %d joints but only %d ranges", c, nr)
	}

	out := mat.NewDense(r, c, nil)
	for row := 0; row < r; row++ {
		for col := 0; col < c; col++ {
			out.Set(row, col, Remap(poses.At(row, col), -1, 1, handRange.At(col, 0), handRange.At(col, 1)))
		}
	}
	return out, nil
}

// TrueValues expands poses (poses x joints) into the target sample matrix
// (joints x poses*samplesPerPose); every pose is repeated samplesPerPose times.
func TrueValues(poses mat.Matrix, samplesPerPose int) *mat.Dense {
	nPoses, nJoints := poses.Dims()
	out := mat.NewDense(nJoints, nPoses*samplesPerPose, nil)
	for i := 0; i < nPoses; i++ {
		for s := 0; s < samplesPerPose; s++ {
			col := i*samplesPerPose + s
			for j := 0; j < nJoints; j++ {
				out.Set(j, col, poses.At(i, j))
			}
		}
	}
	return out
}
