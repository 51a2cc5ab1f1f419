package vr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestButtonText(t *testing.T) {
	for _, b := range []Button{ButtonTrigger, ButtonSide, ButtonMenu, ButtonPad} {
		text, err := b.MarshalText()
		require.NoError(t, err)
		var got Button
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, b, got)
	}

	var b Button
	assert.Error(t, b.UnmarshalText([]byte("grip")))
	_, err := Button(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "button(9)", Button(9).String())
}

func TestEventJSON(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(`{"hand":1,"button":"menu","type":"untouch"}`), &e))
	assert.Equal(t, Event{Hand: 1, Button: ButtonMenu, Type: Untouch}, e)

	data, err := json.Marshal(Event{Button: ButtonPad, Type: Press})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hand":0,"button":"pad","type":"press"}`, string(data))
}

func TestEyeCameras(t *testing.T) {
	// Head turned 90 degrees about y: x axis maps to -z.
	hmd := DevicePose{
		Valid: true, Connected: true,
		Pos: [3]float64{1, 2, 3},
		Mat: [9]float64{
			0, 0, 1,
			0, 1, 0,
			-1, 0, 0,
		},
	}
	cams := EyeCameras(hmd, DefaultEyeOffsets)

	assert.InDeltaSlice(t, []float64{1, 2, 3.032}, cams[0].Pos[:], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 2, 2.968}, cams[1].Pos[:], 1e-12)
	for _, c := range cams {
		assert.Equal(t, [3]float64{-1, 0, 0}, c.Forward)
		assert.Equal(t, [3]float64{0, 1, 0}, c.Up)
	}
}

func TestMockScript(t *testing.T) {
	ctx := context.Background()
	first := IdleFrame()
	first.Events = []Event{{Hand: 0, Button: ButtonTrigger, Type: Press}}
	second := IdleFrame()
	second.Controllers[1].Connected = false

	m := NewMock(first, second)
	assert.Equal(t, 2, m.Controllers())
	assert.Equal(t, 2, m.Pending())

	f, err := m.WaitFrame(ctx)
	require.NoError(t, err)
	assert.Len(t, f.Events, 1)
	assert.Equal(t, 1, m.Controllers())

	f, err = m.WaitFrame(ctx)
	require.NoError(t, err)
	assert.False(t, f.Controllers[1].Connected)

	// script exhausted: last frame repeats without events
	f, err = m.WaitFrame(ctx)
	require.NoError(t, err)
	assert.False(t, f.Controllers[1].Connected)
	assert.Empty(t, f.Events)

	m.Push(first)
	f, err = m.WaitFrame(ctx)
	require.NoError(t, err)
	assert.Len(t, f.Events, 1)

	require.NoError(t, m.Close())
	_, err = m.WaitFrame(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMockCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMock().WaitFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBridgeMergesEvents(t *testing.T) {
	b := newBridge(DefaultEyeOffsets, nil)
	defer b.Close()

	b.handle([]byte(`{"controllers":[{"valid":true,"connected":true,"trigger":0.2},{}],"events":[{"hand":0,"button":"trigger","type":"press"}]}`))
	b.handle([]byte(`{"controllers":[{"valid":true,"connected":true,"trigger":0.9},{"connected":true}],"events":[{"hand":1,"button":"side","type":"press"}],"eyes":[[-0.03,0,0],[0.03,0,0]]}`))
	b.handle([]byte(`not json`))

	assert.Equal(t, 2, b.Controllers())
	assert.Equal(t, EyeOffsets{{-0.03, 0, 0}, {0.03, 0, 0}}, b.EyeOffsets())
	assert.Equal(t, 1, b.Dropped())

	f, err := b.WaitFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.9, f.Controllers[0].Trigger)
	require.Len(t, f.Events, 2)
	assert.Equal(t, ButtonTrigger, f.Events[0].Button)
	assert.Equal(t, ButtonSide, f.Events[1].Button)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.WaitFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridgeWaitFrameWakesOnMessage(t *testing.T) {
	b := newBridge(DefaultEyeOffsets, nil)
	defer b.Close()

	got := make(chan Frame, 1)
	go func() {
		f, err := b.WaitFrame(context.Background())
		if err == nil {
			got <- f
		}
		close(got)
	}()

	b.handle([]byte(`{"hmd":{"valid":true,"connected":true,"pos":[0,1.7,0]}}`))

	select {
	case f, ok := <-got:
		require.True(t, ok)
		assert.Equal(t, 1.7, f.HMD.Pos[1])
	case <-time.After(time.Second):
		t.Fatal("WaitFrame did not return")
	}
}

func TestBridgeCloseUnblocksWait(t *testing.T) {
	b := newBridge(DefaultEyeOffsets, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := b.WaitFrame(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("WaitFrame did not return after Close")
	}
}
