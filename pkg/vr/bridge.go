package vr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrClosed is returned by WaitFrame after Close.
var ErrClosed = errors.New("vr: runtime closed")

// BridgeConfig configures the MQTT bridge runtime.
type BridgeConfig struct {
	Broker   string
	ClientID string
	Topic    string
	// Eyes is used until the bridge publishes its own offsets.
	Eyes EyeOffsets
}

// DefaultBridgeConfig matches the defaults of the OpenVR bridge process.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "vrglove-teleop",
		Topic:    "vrglove/vr/frame",
		Eyes:     DefaultEyeOffsets,
	}
}

// bridgeMessage is what the bridge publishes once per VR frame.
type bridgeMessage struct {
	Frame
	Eyes *EyeOffsets `json:"eyes,omitempty"`
}

// Bridge receives frames that an external OpenVR process publishes as JSON
// over MQTT. Events from frames that arrive between two WaitFrame calls are
// merged so that no button press is lost.
type Bridge struct {
	client mqtt.Client
	logger *zap.Logger

	mu      sync.Mutex
	latest  Frame
	events  []Event
	eyes    EyeOffsets
	fresh   bool
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	dropped int
}

// NewBridge connects to the broker and subscribes to the frame topic.
func NewBridge(cfg BridgeConfig, logger *zap.Logger) (*Bridge, error) {
	b := newBridge(cfg.Eyes, logger)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}
	b.logger.Info("connected to VR bridge broker", zap.String("broker", cfg.Broker))

	token := b.client.Subscribe(cfg.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.handle(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		b.client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Topic, err)
	}
	b.logger.Info("subscribed to VR frames", zap.String("topic", cfg.Topic))
	return b, nil
}

func newBridge(eyes EyeOffsets, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		logger: logger,
		eyes:   eyes,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (b *Bridge) handle(payload []byte) {
	var msg bridgeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("bad VR frame", zap.Error(err))
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.events = append(b.events, msg.Events...)
	b.latest = msg.Frame
	b.latest.Events = nil
	if msg.Eyes != nil {
		b.eyes = *msg.Eyes
	}
	b.fresh = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) Controllers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return countConnected(b.latest)
}

func (b *Bridge) EyeOffsets() EyeOffsets {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eyes
}

// Dropped counts payloads that failed to decode.
func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bridge) WaitFrame(ctx context.Context) (Frame, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Frame{}, ErrClosed
		}
		if b.fresh {
			f := b.latest
			f.Events = b.events
			b.events = nil
			b.fresh = false
			b.mu.Unlock()
			return f, nil
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-b.done:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	if b.client != nil {
		b.client.Disconnect(250)
	}
	return nil
}

var _ Runtime = (*Bridge)(nil)
