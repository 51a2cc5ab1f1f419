package vr

import (
	"context"
	"sync"
)

// Mock replays scripted frames. Once the script runs out it keeps returning
// the last frame without events, so a loop can run on indefinitely.
type Mock struct {
	mu     sync.Mutex
	frames []Frame
	last   Frame
	eyes   EyeOffsets
	closed bool
}

// NewMock returns a runtime that yields frames in order.
func NewMock(frames ...Frame) *Mock {
	m := &Mock{eyes: DefaultEyeOffsets, last: IdleFrame()}
	m.frames = append(m.frames, frames...)
	return m
}

// IdleFrame has both controllers connected at rest in front of the user.
func IdleFrame() Frame {
	ident := [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	f := Frame{HMD: DevicePose{Valid: true, Connected: true, Pos: [3]float64{0, 1.6, 0}, Mat: ident}}
	for i := range f.Controllers {
		f.Controllers[i].DevicePose = DevicePose{
			Valid:     true,
			Connected: true,
			Pos:       [3]float64{-0.2 + 0.4*float64(i), 1.0, -0.3},
			Mat:       ident,
		}
	}
	return f
}

// Push appends frames to the script.
func (m *Mock) Push(frames ...Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frames...)
}

// Pending is the number of scripted frames not yet delivered.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *Mock) Controllers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) > 0 {
		return countConnected(m.frames[0])
	}
	return countConnected(m.last)
}

func (m *Mock) EyeOffsets() EyeOffsets { return m.eyes }

func (m *Mock) WaitFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Frame{}, ErrClosed
	}
	if len(m.frames) == 0 {
		return m.last, nil
	}
	f := m.frames[0]
	m.frames = m.frames[1:]
	m.last = f
	m.last.Events = nil
	return f, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Runtime = (*Mock)(nil)
