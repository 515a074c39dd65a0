// Package websocket serves the live license event feed.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"licensed/internal/infrastructure"
	"licensed/pkg/contracts/events"
)

const broadcastBuffer = 256

type outbound struct {
	msgType string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts license events to them
type Hub struct {
	clients map[*Client]struct{}

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *OTelMetrics
	now     func() time.Time
}

// NewHub creates a Hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *OTelMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled. On exit
// every client's send channel is closed, which ends its write pump.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
		h.logger.Info("hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			cctx := infrastructure.WithTraceID(context.Background(), c.traceID)
			h.metrics.recordConnect(cctx)
			h.logger.InfoContext(cctx, "client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count))

			if msg, err := json.Marshal(events.WebSocketMessage{
				ID:        c.id,
				Type:      events.MessageTypeConnect,
				Timestamp: h.now().UTC(),
				TraceID:   c.traceID,
			}); err == nil {
				select {
				case c.send <- msg:
				default:
				}
			}

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c]
			if ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				cctx := infrastructure.WithTraceID(context.Background(), c.traceID)
				h.metrics.recordDisconnect(cctx, time.Since(c.connectedAt))
				h.logger.InfoContext(cctx, "client unregistered",
					slog.String("client_id", c.id),
					slog.Int("total_clients", count),
					slog.Duration("connection_duration", time.Since(c.connectedAt)))
			}

		case msg := <-h.broadcast:
			h.deliver(ctx, msg)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.clients {
		select {
		case c.send <- msg.payload:
			sent++
		default:
			// Slow consumer; drop it rather than stall the feed.
			close(c.send)
			delete(h.clients, c)
			h.metrics.recordDropped(ctx, "client_buffer_full")
			h.logger.WarnContext(ctx, "client send buffer full, disconnecting",
				slog.String("client_id", c.id))
		}
	}
	h.metrics.recordSent(ctx, msg.msgType, sent)
	h.logger.DebugContext(ctx, "event broadcast",
		slog.String("type", msg.msgType),
		slog.Int("recipients", sent))
}

// PublishLicenseEvent queues ev for every connected client. It never
// blocks: when the hub is stopped or its queue is full the event is dropped.
func (h *Hub) PublishLicenseEvent(ctx context.Context, t events.MessageType, ev events.LicenseEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now().UTC()
	}
	msg := events.NewLicenseMessage(t, infrastructure.GetTraceID(ctx), ev)
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "marshal license event", slog.String("error", err.Error()))
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- outbound{msgType: string(t), payload: payload}:
	default:
		h.metrics.recordDropped(ctx, "hub_queue_full")
		h.logger.WarnContext(ctx, "event queue full, dropping event", slog.String("type", string(t)))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) removeClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
