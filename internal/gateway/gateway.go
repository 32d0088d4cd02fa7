// Package gateway carries the kiosk channel: websocket connections, the
// frame protocol and the dispatcher that routes server events to the live
// connection of a kiosk.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/metrics"
)

// Sessions is what the gateway needs from the session service.
type Sessions interface {
	// Connected replays the active session of kioskID, if any, to the
	// kiosk's new connection.
	Connected(kioskID string)
	// Deliver applies a client event to the kiosk's active session,
	// starting one on person_detected.
	Deliver(ctx context.Context, kioskID string, ev engine.Event) error
	// Disconnected starts the reconnect grace window.
	Disconnected(kioskID string)
}

type Options struct {
	// AllowClientConfirm accepts payment_completed from the kiosk.  Off in
	// production, where only the verified webhook confirms payments.
	AllowClientConfirm bool
	CheckOrigin        func(r *http.Request) bool
}

type Gateway struct {
	sessions Sessions
	disp     *Dispatcher
	opts     Options
	upgrader websocket.Upgrader
	log      *log.Logger
}

func New(sessions Sessions, disp *Dispatcher, opts Options, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.New("gateway")
	}
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Gateway{
		sessions: sessions,
		disp:     disp,
		opts:     opts,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: check},
		log:      logger,
	}
}

// Serve upgrades an already authenticated request for kioskID and runs the
// connection until it closes.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, kioskID string) error {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newConn(ws, kioskID, g.log)
	go c.writePump()
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	if prev := g.disp.Bind(c); prev != nil {
		prev.Enqueue(Message{Event: OutKioskDisconnected, Data: struct{}{}})
		prev.Close()
		g.log.Infoj(log.JSON{"msg": "connection replaced", "kiosk_id": kioskID})
	}
	c.Enqueue(Message{Event: OutKioskConnected, Data: struct{}{}})
	g.sessions.Connected(kioskID)
	g.log.Infoj(log.JSON{"msg": "kiosk connected", "kiosk_id": kioskID})

	ctx := context.WithoutCancel(r.Context())
	c.readPump(func(data []byte) { g.handle(ctx, c, data) })

	if g.disp.Unbind(c) {
		g.sessions.Disconnected(kioskID)
	}
	c.Close()
	return nil
}

func (g *Gateway) handle(ctx context.Context, c *Conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		c.Enqueue(ErrorMessage(&engine.InvalidPayloadError{Field: "frame", Reason: "expected {event, data}"}))
		return
	}
	ev, err := Decode(env)
	if err == nil && engine.EventKind(env.Event) == engine.EvPaymentCompleted && !g.opts.AllowClientConfirm {
		err = engine.ErrConfirmationForbidden
	}
	if err == nil {
		err = g.sessions.Deliver(ctx, c.kioskID, ev)
	}
	if err != nil {
		g.log.Warnj(log.JSON{"msg": "client event refused", "kiosk_id": c.kioskID, "event": env.Event, "code": engine.Code(err), "error": err.Error()})
		c.Enqueue(ErrorMessage(err))
	}
}
