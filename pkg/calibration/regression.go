package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// condLimit is the QR condition number above which the SVD path is used.
const condLimit = 1e12

// rankTol is the relative singular value cutoff for the SVD path.
const rankTol = 1e-10

// FingerGroup ties the glove sensors of one finger to the simulator joints
// they drive. Indices are zero based.
type FingerGroup struct {
	Name    string `yaml:"name"`
	Sensors []int  `yaml:"sensors"`
	Joints  []int  `yaml:"joints"`
}

// DefaultGroups returns the sensor-to-actuator grouping for the Adroit hand
// with a 22-sensor CyberGlove.
func DefaultGroups() []FingerGroup {
	return []FingerGroup{
		{Name: "first", Sensors: []int{3, 4, 5, 7, 10}, Joints: []int{2, 3, 4, 5}},
		{Name: "middle", Sensors: []int{7, 8, 9, 10, 11, 14}, Joints: []int{6, 7, 8, 9}},
		{Name: "ring", Sensors: []int{11, 12, 13, 14, 18}, Joints: []int{10, 11, 12, 13}},
		{Name: "little", Sensors: []int{11, 15, 16, 17, 18}, Joints: []int{14, 15, 16, 17, 18}},
		{Name: "thumb", Sensors: []int{0, 1, 2, 3, 19, 20}, Joints: []int{19, 20, 21, 22, 23}},
		{Name: "wrist", Sensors: []int{0, 19, 20, 21}, Joints: []int{0, 1}},
	}
}

// Validate checks the group indices against the sensor and joint counts.
func (g FingerGroup) Validate(sensors, joints int) error {
	if len(g.Sensors) == 0 || len(g.Joints) == 0 {
		return fmt.Errorf("group %q: needs at least one sensor and one joint", g.Name)
	}
	for _, s := range g.Sensors {
		if s < 0 || s >= sensors {
			return fmt.Errorf("group %q: sensor %d out of range [0, %d)", g.Name, s, sensors)
		}
	}
	for _, j := range g.Joints {
		if j < 0 || j >= joints {
			return fmt.Errorf("group %q: joint %d out of range [0, %d)", g.Name, j, joints)
		}
	}
	return nil
}

// design builds the augmented design matrix (sensors + bias row) and the
// target matrix of one group.
func (g FingerGroup) design(trueN, gloveN mat.Matrix) (a, b *mat.Dense) {
	_, m := gloveN.Dims()
	k := len(g.Sensors)

	a = mat.NewDense(k+1, m, nil)
	for i, s := range g.Sensors {
		for c := 0; c < m; c++ {
			a.Set(i, c, gloveN.At(s, c))
		}
	}
	for c := 0; c < m; c++ {
		a.Set(k, c, 1)
	}

	b = mat.NewDense(len(g.Joints), m, nil)
	for i, j := range g.Joints {
		for c := 0; c < m; c++ {
			b.Set(i, c, trueN.At(j, c))
		}
	}
	return a, b
}

// Solve fits, for every finger group, the coefficients X minimising
// ||X·A - B|| where A holds the group's normalized sensor rows plus a row of
// ones and B holds the group's normalized joint rows. The result is
// joints x (sensors+1): coefficients land at the group's joint rows and
// sensor columns, the bias in the last column, everything else is zero.
func Solve(trueN, gloveN mat.Matrix, groups []FingerGroup) (*mat.Dense, error) {
	joints, m := trueN.Dims()
	sensors, gm := gloveN.Dims()
	if m != gm {
		return nil, fmt.Errorf("solve: %d true samples but %d glove samples", m, gm)
	}

	calib := mat.NewDense(joints, sensors+1, nil)
	for _, g := range groups {
		if err := g.Validate(sensors, joints); err != nil {
			return nil, err
		}
		if m < len(g.Sensors)+1 {
			return nil, fmt.Errorf("group %q: %d samples for %d unknowns", g.Name, m, len(g.Sensors)+1)
		}

		a, b := g.design(trueN, gloveN)
		x, err := leastSquares(a.T(), b.T())
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}

		// x is (k+1) x j, the transpose of the coefficient block
		for r, j := range g.Joints {
			for c, s := range g.Sensors {
				calib.Set(j, s, x.At(c, r))
			}
			calib.Set(j, sensors, x.At(len(g.Sensors), r))
		}
	}
	return calib, nil
}

// leastSquares solves a·x = b for x in the least-squares sense. Well
// conditioned systems use QR; rank-deficient ones (e.g. a sensor that never
// moved and normalized to zero) get the minimum-norm SVD solution.
func leastSquares(a, b mat.Matrix) (*mat.Dense, error) {
	var qr mat.QR
	qr.Factorize(a)
	if qr.Cond() < condLimit {
		var x mat.Dense
		if err := qr.SolveTo(&x, false, b); err == nil {
			return &x, nil
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("svd factorization failed")
	}
	rank := svd.Rank(rankTol)
	if rank == 0 {
		_, n := a.Dims()
		_, c := b.Dims()
		return mat.NewDense(n, c, nil), nil
	}
	var x mat.Dense
	svd.SolveTo(&x, b, rank)
	return &x, nil
}

// Residuals returns the RMS error of X·A - B for each group.
func Residuals(calib, trueN, gloveN mat.Matrix, groups []FingerGroup) map[string]float64 {
	sensors, _ := gloveN.Dims()
	out := make(map[string]float64, len(groups))
	for _, g := range groups {
		a, b := g.design(trueN, gloveN)

		x := mat.NewDense(len(g.Joints), len(g.Sensors)+1, nil)
		for r, j := range g.Joints {
			for c, s := range g.Sensors {
				x.Set(r, c, calib.At(j, s))
			}
			x.Set(r, len(g.Sensors), calib.At(j, sensors))
		}

		var pred mat.Dense
		pred.Mul(x, a)
		pred.Sub(&pred, b)

		rows, cols := pred.Dims()
		out[g.Name] = mat.Norm(&pred, 2) / math.Sqrt(float64(rows*cols))
	}
	return out
}
