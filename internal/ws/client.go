package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send small commands
	sendBufferSize = 256
)

// Client is one connected WebSocket endpoint.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	address common.Address // zero for anonymous connections

	// market filter; nil means every market.
	market atomic.Pointer[common.Address]

	sendMu sync.Mutex
	closed bool
}

// deliver queues data without blocking. It reports false when the buffer is
// full or the hub has already closed the client.
func (c *Client) deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) wants(market common.Address) bool {
	m := c.market.Load()
	return m == nil || *m == market
}

// ServeWs upgrades the request. Optional query parameters: token (JWT
// identifying the wallet) and market (only push events for that market).
// The filter can later be changed with subscribe / unsubscribe commands.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	q := r.URL.Query()
	if tok := q.Get("token"); tok != "" && h.parseToken != nil {
		if addr, ok := h.parseToken(tok); ok {
			c.address = addr
		}
	}
	if m := q.Get("market"); m != "" {
		c.subscribe(m)
	}

	select {
	case h.joins <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// subscribe narrows the filter to raw, or reports an error to the client.
func (c *Client) subscribe(raw string) bool {
	if !common.IsHexAddress(raw) {
		c.reply(ErrorMessage{Type: MsgTypeError, Code: "ERR_INVALID_MARKET", Message: "market must be a hex address"})
		return false
	}
	addr := common.HexToAddress(raw)
	c.market.Store(&addr)
	return true
}

// reply queues v for this client only.
func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.deliver(data)
}

// handle applies one client command.
func (c *Client) handle(raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.reply(ErrorMessage{Type: MsgTypeError, Code: "ERR_BAD_COMMAND", Message: "command must be a JSON object"})
		return
	}
	switch cmd.Action {
	case ActionSubscribe:
		if c.subscribe(cmd.Market) {
			c.reply(SubscriptionMessage{Type: MsgTypeSubscribed, Market: c.market.Load()})
		}
	case ActionUnsubscribe:
		c.market.Store(nil)
		c.reply(SubscriptionMessage{Type: MsgTypeSubscribed})
	default:
		c.reply(ErrorMessage{Type: MsgTypeError, Code: "ERR_BAD_COMMAND", Message: "unknown action " + cmd.Action})
	}
}

// writePump drains send onto the connection and pings every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles pongs and commands, and leaves the hub when the
// connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.leaves <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("ws unexpected close", "address", c.address.Hex(), "err", err)
			}
			return
		}
		c.handle(raw)
	}
}
