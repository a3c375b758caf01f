package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/gorilla/websocket"
)

// broadcastBuffer bounds the number of pending fan-out messages.
const broadcastBuffer = 512

// TokenParser resolves a bearer token to a wallet address. ok is false for
// invalid tokens.
type TokenParser func(token string) (addr common.Address, ok bool)

// envelope is one serialised message and the market it concerns.
type envelope struct {
	market common.Address
	data   []byte
}

// Hub fans market events out to connected clients. Run must be running
// before ServeWs accepts connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Client]struct{}

	events chan envelope
	joins  chan *Client
	leaves chan *Client
	done   chan struct{}

	parseToken TokenParser
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHub builds a hub. parseToken may be nil, in which case every connection
// is anonymous. An empty allowedOrigins list accepts any origin.
func NewHub(parseToken TokenParser, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		conns:      make(map[*Client]struct{}),
		events:     make(chan envelope, broadcastBuffer),
		joins:      make(chan *Client),
		leaves:     make(chan *Client),
		done:       make(chan struct{}),
		parseToken: parseToken,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Run owns client membership and fan-out until ctx ends, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-h.joins:
			h.mu.Lock()
			h.conns[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.leaves:
			h.drop(c)
		case env := <-h.events:
			h.fanOut(env)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		c.closeSend()
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		c.closeSend()
	}
}

// fanOut queues env on every interested client. Slow clients lose the
// message instead of stalling the loop.
func (h *Hub) fanOut(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.wants(env.market) {
			c.deliver(env.data)
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish satisfies service.Broadcaster.
func (h *Hub) Publish(evt domain.Event) {
	h.enqueue(evt.Market.ID, messageFor(evt))
}

// BroadcastMarketExpired announces that betting on a market has closed.
func (h *Hub) BroadcastMarketExpired(info domain.MarketInfo) {
	h.enqueue(info.ID, MarketMessage{
		Type:      MsgTypeMarketExpired,
		Market:    info,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) enqueue(market common.Address, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("ws marshal failed", "err", err)
		return
	}
	select {
	case h.events <- envelope{market: market, data: data}:
	default:
		h.logger.Warn("ws broadcast queue full, message dropped", "market_id", market.Hex())
	}
}
