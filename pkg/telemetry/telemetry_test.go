package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sample struct {
	Time float64   `json:"time"`
	Ctrl []float64 `json:"ctrl"`
}

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{} { return make(chan struct{}) }
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	topic        string
	retained     bool
	payloads     [][]byte
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.retained = retained
	c.payloads = append(c.payloads, payload.([]byte))
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher(t *testing.T) {
	fc := &fakeClient{token: &fakeToken{}}
	p := newMQTTPublisher(fc, "vrglove/state", true, nil)

	require.NoError(t, p.Publish(sample{Time: 1.5, Ctrl: []float64{0.1}}))
	assert.Equal(t, "vrglove/state", fc.topic)
	assert.True(t, fc.retained)
	require.Len(t, fc.payloads, 1)
	assert.JSONEq(t, `{"time":1.5,"ctrl":[0.1]}`, string(fc.payloads[0]))

	fc.token.err = errors.New("broker gone")
	err := p.Publish(sample{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")

	fc.token = &fakeToken{pending: true}
	assert.NoError(t, p.Publish(sample{}))

	assert.Error(t, p.Publish(func() {}))

	require.NoError(t, p.Close())
	assert.True(t, fc.disconnected)
}

type recordPublisher struct {
	states []any
	err    error
	closed bool
}

func (r *recordPublisher) Publish(s any) error {
	r.states = append(r.states, s)
	return r.err
}

func (r *recordPublisher) Close() error {
	r.closed = true
	return r.err
}

func TestMulti(t *testing.T) {
	a := &recordPublisher{}
	b := &recordPublisher{err: errors.New("b failed")}
	m := Multi(a, b)

	err := m.Publish(1)
	require.Error(t, err)
	assert.Len(t, a.states, 1)
	assert.Len(t, b.states, 1)

	assert.Error(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestHubState(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()
	t.Cleanup(http.DefaultClient.CloseIdleConnections)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, h.Publish(sample{Time: 2}))

	resp, err = http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":2,"ctrl":null}`, string(body))
}

func TestHubStream(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	require.NoError(t, h.Publish(sample{Time: 1}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() sample {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var s sample
		require.NoError(t, json.Unmarshal(data, &s))
		return s
	}

	// the latest state is sent on connect
	assert.Equal(t, 1.0, read().Time)

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Publish(sample{Time: 2, Ctrl: []float64{0.5}}))
	got := read()
	assert.Equal(t, 2.0, got.Time)
	assert.Equal(t, []float64{0.5}, got.Ctrl)

	require.NoError(t, h.Close())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, h.Publish(sample{Time: 3}))
}

func TestHubClientDisconnect(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 5*time.Millisecond)
}
