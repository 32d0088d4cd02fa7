// Package payment drives payment attempts against an external gateway and
// turns gateway callbacks and local timeouts into engine events.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// ErrUnknownAttempt is returned by Notify for callbacks that match no
// attempt this process started.
var ErrUnknownAttempt = engine.NewError(engine.CodeNotFound, "unknown payment attempt")

// ApplyFunc feeds a normalised payment event into the session it belongs to.
type ApplyFunc func(sessionID string, ev engine.Event) error

// Options tunes an Orchestrator.
type Options struct {
	Timeout  time.Duration
	Prices   map[model.DurationTier]int64
	Currency string
	QRSize   int
}

// Attempt identifies the payment attempt to start.
type Attempt struct {
	ID        string
	SessionID string
	KioskID   string
	Method    model.PaymentMethod
	Duration  model.DurationTier
}

type pending struct {
	sessionID string
	txID      string
	timer     *time.Timer
	timedOut  bool
}

// Orchestrator owns the attempts in flight.  Each attempt has one timer;
// when it fires the attempt fails with reason "timeout" but stays known so
// a late confirmation can still settle it.
type Orchestrator struct {
	provider Provider
	opts     Options
	apply    ApplyFunc
	log      *log.Logger

	mu       sync.Mutex
	attempts map[string]*pending // attempt id
	byTx     map[string]string   // transaction id -> attempt id
}

func NewOrchestrator(p Provider, opts Options, apply ApplyFunc, logger *log.Logger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "KRW"
	}
	return &Orchestrator{
		provider: p,
		opts:     opts,
		apply:    apply,
		log:      logger,
		attempts: make(map[string]*pending),
		byTx:     make(map[string]string),
	}
}

// Price returns the amount charged for tier d.
func (o *Orchestrator) Price(d model.DurationTier) (int64, error) {
	amount, ok := o.opts.Prices[d]
	if !ok || amount <= 0 {
		return 0, fmt.Errorf("no price configured for %s", d)
	}
	return amount, nil
}

// Start opens attempt a at the provider.  Provider errors are reported to
// the session as a payment failure rather than returned, so the visitor is
// offered the payment options again.
func (o *Orchestrator) Start(ctx context.Context, a Attempt) {
	amount, err := o.Price(a.Duration)
	if err != nil {
		o.fail(a, "", "price_unavailable", false)
		return
	}
	req := Request{
		AttemptID: a.ID,
		SessionID: a.SessionID,
		KioskID:   a.KioskID,
		Method:    a.Method,
		Duration:  a.Duration,
		Amount:    amount,
		Currency:  o.opts.Currency,
	}

	var co Checkout
	if a.Method == model.PaymentMobileQR {
		co, err = o.provider.CreateCheckout(ctx, req)
	} else {
		co, err = o.provider.ArmTerminal(ctx, req)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.log.Errorj(log.JSON{"msg": "payment provider error", "session_id": a.SessionID, "attempt": a.ID, "provider": o.provider.Name(), "err": err.Error()})
		// A provider that could not open the attempt is not a decline, so
		// the visitor may pick a method again.
		o.fail(a, "", "gateway_error", true)
		return
	}

	o.track(a, co.TransactionID)

	if a.Method != model.PaymentMobileQR {
		return
	}
	qr, err := QRDataURL(co.PaymentURL, o.opts.QRSize)
	if err != nil {
		o.log.Errorj(log.JSON{"msg": "qr encode failed", "session_id": a.SessionID, "attempt": a.ID, "err": err.Error()})
		o.Forget(a.SessionID)
		o.fail(a, co.TransactionID, "qr_unavailable", true)
		return
	}
	o.deliver(a.SessionID, engine.PaymentQRReady{
		AttemptID:     a.ID,
		TransactionID: co.TransactionID,
		QRCode:        qr,
		PaymentURL:    co.PaymentURL,
	})
}

func (o *Orchestrator) track(a Attempt, txID string) {
	p := &pending{sessionID: a.SessionID, txID: txID}
	o.mu.Lock()
	o.attempts[a.ID] = p
	if txID != "" {
		o.byTx[txID] = a.ID
	}
	p.timer = time.AfterFunc(o.opts.Timeout, func() { o.expire(a.ID) })
	o.mu.Unlock()
}

func (o *Orchestrator) expire(attemptID string) {
	o.mu.Lock()
	p, ok := o.attempts[attemptID]
	if !ok || p.timedOut {
		o.mu.Unlock()
		return
	}
	p.timedOut = true
	sessionID, txID := p.sessionID, p.txID
	o.mu.Unlock()

	o.log.Warnj(log.JSON{"msg": "payment timed out", "session_id": sessionID, "attempt": attemptID})
	o.deliver(sessionID, engine.PaymentFailed{
		AttemptID:     attemptID,
		TransactionID: txID,
		Reason:        model.ReasonTimeout,
		Retryable:     true,
	})
}

// Notify applies a verified gateway callback.  The attempt is located by
// order id first and transaction id second.
func (o *Orchestrator) Notify(n Notification) error {
	o.mu.Lock()
	attemptID := n.OrderID
	p, ok := o.attempts[attemptID]
	if !ok && n.TransactionID != "" {
		attemptID = o.byTx[n.TransactionID]
		p, ok = o.attempts[attemptID]
	}
	if !ok {
		o.mu.Unlock()
		o.log.Warnj(log.JSON{"msg": "payment notification discarded", "order_id": n.OrderID, "transaction_id": n.TransactionID, "reason": "unknown attempt"})
		return ErrUnknownAttempt
	}
	p.timer.Stop()
	o.drop(attemptID, p)
	sessionID := p.sessionID
	txID := n.TransactionID
	if txID == "" {
		txID = p.txID
	}
	o.mu.Unlock()

	var ev engine.Event
	if n.Status == StatusCompleted {
		ev = engine.PaymentCompleted{AttemptID: attemptID, TransactionID: txID}
	} else {
		ev = engine.PaymentFailed{AttemptID: attemptID, TransactionID: txID, Reason: n.Reason, Retryable: Retryable(n.Reason)}
	}
	return o.apply(sessionID, ev)
}

// Forget stops the timers of every attempt of sessionID.  It is called when
// the session ends or its in-flight work is cancelled.
func (o *Orchestrator) Forget(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, p := range o.attempts {
		if p.sessionID == sessionID {
			p.timer.Stop()
			o.drop(id, p)
		}
	}
}

// Pending returns the number of attempts still tracked.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.attempts)
}

// drop must be called with o.mu held.
func (o *Orchestrator) drop(attemptID string, p *pending) {
	delete(o.attempts, attemptID)
	if p.txID != "" {
		delete(o.byTx, p.txID)
	}
}

func (o *Orchestrator) fail(a Attempt, txID, reason string, retryable bool) {
	o.deliver(a.SessionID, engine.PaymentFailed{AttemptID: a.ID, TransactionID: txID, Reason: reason, Retryable: retryable})
}

func (o *Orchestrator) deliver(sessionID string, ev engine.Event) {
	if err := o.apply(sessionID, ev); err != nil {
		if errors.Is(err, engine.ErrStaleResult) || errors.Is(err, engine.ErrSessionTerminal) {
			o.log.Infoj(log.JSON{"msg": "payment result discarded", "session_id": sessionID, "event": string(ev.Kind()), "code": engine.Code(err)})
			return
		}
		o.log.Warnj(log.JSON{"msg": "payment event rejected", "session_id": sessionID, "event": string(ev.Kind()), "code": engine.Code(err), "err": err.Error()})
	}
}
