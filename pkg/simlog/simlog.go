// Package simlog records simulator state to a compact binary file: an int32
// header with the array sizes and model names, then one float32 record per
// simulation step. Everything is little endian.
package simlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/gwillem/vrglove/pkg/sim"
)

// ErrSize means a snapshot does not match the header dimensions.
var ErrSize = errors.New("simlog: snapshot size mismatch")

// Filename returns <prefix>_YYYY_MM_DD_HH_MM_SS.log for t.
func Filename(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.log", prefix, t.Format("2006_01_02_15_04_05"))
}

// RecordLen is the number of float32 values per step.
func RecordLen(d sim.Dims) int {
	return 1 + d.NQ + d.NV + d.NU + 7*d.NMocap + d.NSensorData + d.NUserData
}

// Writer appends step records.
type Writer struct {
	w      *bufio.Writer
	c      io.Closer
	dims   sim.Dims
	record []float32
	path   string
	steps  int
}

// Create opens a new log file named after prefix and the current time and
// writes the header.
func Create(prefix string, now time.Time, dims sim.Dims, names string) (*Writer, error) {
	path := Filename(prefix, now)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	w, err := NewWriter(f, dims, names)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	w.path = path
	return w, nil
}

// NewWriter writes the header to dst. If dst is an io.Closer, Close closes it.
func NewWriter(dst io.Writer, dims sim.Dims, names string) (*Writer, error) {
	w := &Writer{
		w:      bufio.NewWriter(dst),
		dims:   dims,
		record: make([]float32, RecordLen(dims)),
	}
	if c, ok := dst.(io.Closer); ok {
		w.c = c
	}

	header := []int32{
		int32(dims.NQ), int32(dims.NV), int32(dims.NU), int32(dims.NMocap),
		int32(dims.NSensorData), int32(dims.NUserData), int32(len(names)),
	}
	if err := binary.Write(w.w, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := w.w.WriteString(names); err != nil {
		return nil, fmt.Errorf("write names: %w", err)
	}
	return w, nil
}

// Path is the file name chosen by Create, empty for NewWriter.
func (w *Writer) Path() string { return w.path }

// Steps is the number of records written.
func (w *Writer) Steps() int { return w.steps }

// Write appends one record.
func (w *Writer) Write(s sim.Snapshot) error {
	d := w.dims
	parts := []struct {
		v []float64
		n int
	}{
		{s.QPos, d.NQ},
		{s.QVel, d.NV},
		{s.Ctrl, d.NU},
		{s.MocapPos, 3 * d.NMocap},
		{s.MocapQuat, 4 * d.NMocap},
		{s.SensorData, d.NSensorData},
		{s.UserData, d.NUserData},
	}

	w.record[0] = float32(s.Time)
	i := 1
	for _, p := range parts {
		if len(p.v) != p.n {
			return fmt.Errorf("%w: got %d values, want %d", ErrSize, len(p.v), p.n)
		}
		for _, v := range p.v {
			w.record[i] = float32(v)
			i++
		}
	}
	if err := binary.Write(w.w, binary.LittleEndian, w.record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.steps++
	return nil
}

// Close flushes buffered records and closes the underlying file.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if w.c != nil {
		err = multierr.Append(err, w.c.Close())
	}
	return err
}

// Header is the decoded start of a log.
type Header struct {
	Dims  sim.Dims
	Names string
}

// Reader decodes a log written by Writer.
type Reader struct {
	r      *bufio.Reader
	header Header
	record []float32
}

// NewReader reads and checks the header.
func NewReader(src io.Reader) (*Reader, error) {
	r := &Reader{r: bufio.NewReader(src)}
	var h [7]int32
	if err := binary.Read(r.r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for _, v := range h {
		if v < 0 {
			return nil, fmt.Errorf("read header: negative size %d", v)
		}
	}
	names := make([]byte, h[6])
	if _, err := io.ReadFull(r.r, names); err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	r.header = Header{
		Dims: sim.Dims{
			NQ: int(h[0]), NV: int(h[1]), NU: int(h[2]), NMocap: int(h[3]),
			NSensorData: int(h[4]), NUserData: int(h[5]),
		},
		Names: string(names),
	}
	r.record = make([]float32, RecordLen(r.header.Dims))
	return r, nil
}

func (r *Reader) Header() Header { return r.header }

// Next decodes the next record. It returns io.EOF after the last one.
func (r *Reader) Next() (sim.Snapshot, error) {
	if err := binary.Read(r.r, binary.LittleEndian, r.record); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return sim.Snapshot{}, fmt.Errorf("truncated record: %w", err)
		}
		return sim.Snapshot{}, err
	}

	d := r.header.Dims
	rest := r.record[1:]
	take := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(rest[i])
		}
		rest = rest[n:]
		return out
	}
	s := sim.Snapshot{Time: float64(r.record[0])}
	s.QPos = take(d.NQ)
	s.QVel = take(d.NV)
	s.Ctrl = take(d.NU)
	s.MocapPos = take(3 * d.NMocap)
	s.MocapQuat = take(4 * d.NMocap)
	s.SensorData = take(d.NSensorData)
	s.UserData = take(d.NUserData)
	return s, nil
}

// ReadAll decodes every record of a log file.
func ReadAll(path string) (Header, []sim.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	r, err := NewReader(f)
	if err != nil {
		return Header{}, nil, err
	}
	var steps []sim.Snapshot
	for {
		s, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Header(), steps, nil
		}
		if err != nil {
			return r.Header(), steps, err
		}
		steps = append(steps, s)
	}
}
