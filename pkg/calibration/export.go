package calibration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const csvSep = ", "

// WriteCSV writes m with ", " separators.
func WriteCSV(w io.Writer, m mat.Matrix) error {
	return WriteMatrix(w, m, csvSep)
}

// ReadCSV reads a comma separated matrix.
func ReadCSV(r io.Reader) (*mat.Dense, error) {
	return ReadMatrix(r, func(line string) []string {
		return strings.Split(line, ",")
	})
}

// WriteCSVFile writes m to path as CSV.
func WriteCSVFile(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, m); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadCSVFile reads a CSV matrix from path.
func ReadCSVFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// WriteMatlab writes m as a Matlab assignment: name = [ r0; r1; ]
func WriteMatlab(w io.Writer, name string, m mat.Matrix) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(name)
	bw.WriteString(" = [ ")

	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(m.At(i, j), 'g', -1, 64))
		}
		bw.WriteString("; ")
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

// WriteMatlabFile writes dir/name.m.
func WriteMatlabFile(dir, name string, m mat.Matrix) error {
	path := filepath.Join(dir, name+".m")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteMatlab(f, name, m); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
