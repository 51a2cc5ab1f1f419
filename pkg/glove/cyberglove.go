package glove

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"
)

const (
	cmdGetSample = 'G'
	recordEnd    = 0x00
)

// Config describes how to reach a CyberGlove.
type Config struct {
	Port     string
	BaudRate int
	Sensors  int
	Timeout  time.Duration
}

// CyberGlove talks to a CyberGlove over a serial line using the binary
// 'G' sample command. A reply is 'G', one byte per sensor, then 0x00.
type CyberGlove struct {
	port    io.ReadWriteCloser
	sensors int
	timeout time.Duration

	mu  sync.Mutex
	buf []byte
}

// Open opens the serial port and returns a ready glove.
func Open(cfg Config) (*CyberGlove, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open glove port %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}

	return newCyberGlove(port, cfg.Sensors, cfg.Timeout), nil
}

func newCyberGlove(port io.ReadWriteCloser, sensors int, timeout time.Duration) *CyberGlove {
	if sensors <= 0 {
		sensors = DefaultSensors
	}
	return &CyberGlove{
		port:    port,
		sensors: sensors,
		timeout: timeout,
		buf:     make([]byte, sensors+2),
	}
}

// NumSensors returns the number of sensors per record.
func (g *CyberGlove) NumSensors() int {
	return g.sensors
}

// Close closes the serial port.
func (g *CyberGlove) Close() error {
	return g.port.Close()
}

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// ReadRaw requests one sample and returns the sensor bytes as floats. Bytes
// in front of the record header are skipped. After a failed read the input
// buffer is dropped so the next record starts aligned.
func (g *CyberGlove) ReadRaw(ctx context.Context) ([]float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	values, err := g.readRecord(ctx)
	if err != nil {
		if r, ok := g.port.(inputResetter); ok {
			err = multierr.Append(err, r.ResetInputBuffer())
		}
		return nil, err
	}
	return values, nil
}

func (g *CyberGlove) readRecord(ctx context.Context) ([]float64, error) {
	if _, err := g.port.Write([]byte{cmdGetSample}); err != nil {
		return nil, fmt.Errorf("write sample command: %w", err)
	}

	deadline := time.Now().Add(4 * g.timeout)
	n, skipped := 0, 0
	for n < len(g.buf) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k, err := g.port.Read(g.buf[n:])
		if err != nil {
			return nil, fmt.Errorf("read sample: %w", err)
		}
		if n == 0 && k > 0 {
			i := bytes.IndexByte(g.buf[:k], cmdGetSample)
			if i < 0 {
				i = k
			}
			copy(g.buf, g.buf[i:k])
			skipped += i
			k -= i
		}
		n += k
		// serial reads return 0 bytes on timeout
		if k == 0 && time.Now().After(deadline) {
			if n == 0 && skipped > 0 {
				return nil, fmt.Errorf("%w: no header in %d bytes", ErrFraming, skipped)
			}
			return nil, fmt.Errorf("read sample: timeout after %d of %d bytes", n, len(g.buf))
		}
	}

	if g.buf[len(g.buf)-1] != recordEnd {
		return nil, fmt.Errorf("%w: got trailer %#x", ErrFraming, g.buf[len(g.buf)-1])
	}

	values := make([]float64, g.sensors)
	for i := range values {
		values[i] = float64(g.buf[i+1])
	}
	return values, nil
}

// ListPorts returns candidate serial ports, skipping Bluetooth devices.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	var out []string
	for _, p := range ports {
		// macOS exposes Bluetooth as serial ports
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
