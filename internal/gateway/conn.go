package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	outboxSize     = 64
)

// Conn is one live kiosk channel.  Outbound frames are queued and written
// by a single writer goroutine.
type Conn struct {
	ws      *websocket.Conn
	kioskID string
	log     *log.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConn(ws *websocket.Conn, kioskID string, logger *log.Logger) *Conn {
	return &Conn{ws: ws, kioskID: kioskID, log: logger, send: make(chan []byte, outboxSize)}
}

// KioskID returns the kiosk the connection authenticated as.
func (c *Conn) KioskID() string { return c.kioskID }

// Enqueue queues msg without blocking.  It reports false when the
// connection is closed or its outbox is full; a full outbox closes the
// connection since the client stopped reading.
func (c *Conn) Enqueue(msg Message) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorj(log.JSON{"msg": "encode frame failed", "kiosk_id": c.kioskID, "event": msg.Event, "error": err.Error()})
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		c.log.Warnj(log.JSON{"msg": "outbox full, closing connection", "kiosk_id": c.kioskID, "event": msg.Event})
		c.closeLocked()
		return false
	}
}

// Close stops accepting frames.  Frames already queued are still written.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Conn) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readPump hands every text frame to handle until the peer goes away.
func (c *Conn) readPump(handle func([]byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Infoj(log.JSON{"msg": "connection dropped", "kiosk_id": c.kioskID, "error": err.Error()})
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(data)
	}
}
