package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"queuewatch/internal/monitor"
)

// Envelope is the JSON text frame sent to observers.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SnapshotSource provides the state a new observer starts from.
type SnapshotSource interface {
	Snapshot() monitor.Snapshot
}

type Config struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	SendBuffer int
}

func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Hub maintains the set of active observers and broadcasts deltas to them.
// The observer set is owned by the Run goroutine.
type Hub struct {
	state SnapshotSource
	cfg   Config

	// Registered clients
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	// signalled when Publish dropped a delta
	resync chan struct{}

	// count mirrors len(clients) for readers outside Run
	mu    sync.RWMutex
	count int

	logger zerolog.Logger
}

func NewHub(state SnapshotSource, cfg Config, logger zerolog.Logger) *Hub {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		state:      state,
		cfg:        cfg,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 1024),
		done:       make(chan struct{}),
		resync:     make(chan struct{}, 1),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop. On return every observer is closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			// the snapshot is queued before the client joins the
			// broadcast set, so no delta can overtake it
			msg, err := encode(monitor.ChannelInitialState, h.state.Snapshot())
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to encode snapshot")
				close(c.send)
				continue
			}
			c.send <- msg
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Info().
				Str("client_id", c.id).
				Int("total_clients", len(h.clients)).
				Msg("client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info().
					Str("client_id", c.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}

		case msg := <-h.broadcast:
			h.fanout(msg)

		case <-h.resync:
			h.resyncAll()
		}
	}
}

func (h *Hub) fanout(msg []byte) {
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// slow observers resync through a new snapshot
			h.drop(c)
			h.logger.Warn().
				Str("client_id", c.id).
				Msg("client send buffer full, closing connection")
		}
	}
}

// resyncAll delivers the queued deltas, then a fresh snapshot to every
// observer, so a dropped delta is covered by newer state.
func (h *Hub) resyncAll() {
	for drained := false; !drained; {
		select {
		case msg := <-h.broadcast:
			h.fanout(msg)
		default:
			drained = true
		}
	}

	msg, err := encode(monitor.ChannelInitialState, h.state.Snapshot())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode snapshot")
		return
	}
	h.fanout(msg)
	h.logger.Info().Int("total_clients", len(h.clients)).Msg("observers resynced after dropped update")
}

// Publish queues a delta for every observer. It never blocks the caller.
func (h *Hub) Publish(channel string, payload any) {
	msg, err := encode(channel, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", channel).Msg("failed to encode update")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("event", channel).Msg("broadcast queue full, update dropped")
		select {
		case h.resync <- struct{}{}:
		default:
		}
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Register hands a client to the hub. It reports false once the hub has
// stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

func encode(channel string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Event: channel, Data: payload})
}
