package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer = 16
	writeWait  = time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams every published state to websocket clients on /ws and serves
// the latest one on /api/state.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool
}

// NewHub returns a hub with no clients.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes /ws and /api/state.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/api/state", h.serveState)
	return mux
}

// ListenAndServe serves the hub on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	h.logger.Info("telemetry hub listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return fmt.Errorf("telemetry hub: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if lerr := <-errc; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) && err == nil {
		err = lerr
	}
	return err
}

// Clients is the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish stores state as the latest snapshot and queues it for every
// client. A client whose queue is full misses this update.
func (h *Hub) Publish(state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.latest = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		// Unblocks the read loop if the peer never answers the close frame.
		_ = c.conn.SetReadDeadline(time.Now().Add(writeWait))
		h.drop(c)
	}
	return nil
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) serveState(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	data := h.latest
	h.mu.Unlock()

	if data == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()
	h.logger.Debug("telemetry client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	// Incoming messages are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("telemetry client read", zap.Error(err))
			}
			break
		}
	}

	h.mu.Lock()
	h.drop(c)
	h.mu.Unlock()
	<-done
	conn.Close()
}

func (h *Hub) writePump(c *client) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("telemetry client write", zap.Error(err))
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
