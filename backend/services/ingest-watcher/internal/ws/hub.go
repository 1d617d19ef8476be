package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub fans pipeline transitions out to websocket subscribers.
type Hub struct {
	mu          sync.RWMutex
	connections map[uint64]*Connection
	nextID      atomic.Uint64

	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub(writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		connections:  make(map[uint64]*Connection),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Broadcast encodes v once and queues it for every subscriber. It never blocks.
func (h *Hub) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to encode event", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.connections {
		conn.Send(payload)
	}
}

// HandleWS is the HTTP handler for /ws/events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	id := h.nextID.Add(1)
	connection := NewConnection(id, conn, h.writeTimeout, h.logger, h.remove)
	h.mu.Lock()
	h.connections[id] = connection
	h.mu.Unlock()

	go connection.Start(h.ctx)
	h.logger.Info("event subscriber connected", zap.Uint64("subscriber", id), zap.String("remote", r.RemoteAddr))
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, id)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.cancel()
}
