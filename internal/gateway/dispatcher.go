package gateway

import (
	"sync"

	"github.com/labstack/gommon/log"
)

// Dispatcher routes outbound frames to the live connection of a kiosk.  A
// kiosk has at most one bound connection; binding a new one replaces the
// old one.
type Dispatcher struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	log   *log.Logger
}

func NewDispatcher(logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New("dispatch")
	}
	return &Dispatcher{conns: make(map[string]*Conn), log: logger}
}

// Bind makes c the connection of its kiosk and returns the one it replaced.
func (d *Dispatcher) Bind(c *Conn) *Conn {
	d.mu.Lock()
	prev := d.conns[c.kioskID]
	d.conns[c.kioskID] = c
	d.mu.Unlock()
	if prev == c {
		return nil
	}
	return prev
}

// Unbind removes c if it is still the kiosk's connection.
func (d *Dispatcher) Unbind(c *Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns[c.kioskID] != c {
		return false
	}
	delete(d.conns, c.kioskID)
	return true
}

// Connected reports whether kioskID has a live connection.
func (d *Dispatcher) Connected(kioskID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.conns[kioskID]
	return ok
}

// Send queues msg for kioskID.  Frames for kiosks without a connection are
// dropped; the client catches up through the replay on reconnect.
func (d *Dispatcher) Send(kioskID string, msg Message) bool {
	d.mu.RLock()
	c := d.conns[kioskID]
	d.mu.RUnlock()
	if c == nil {
		d.log.Debugj(log.JSON{"msg": "no connection, frame dropped", "kiosk_id": kioskID, "event": msg.Event})
		return false
	}
	return c.Enqueue(msg)
}
