// Package service ties the session store to the kiosk channel and the
// collaborators.  It is the store's observer: every accepted event is
// turned into server frames, side effects, audit records and metrics.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/kiosk-session-server/internal/audit"
	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/gateway"
	"github.com/iliyamo/kiosk-session-server/internal/metrics"
	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/payment"
	"github.com/iliyamo/kiosk-session-server/internal/session"
	"github.com/iliyamo/kiosk-session-server/internal/ticket"
	"github.com/iliyamo/kiosk-session-server/internal/video"
)

// Catalog supplies the animal ids snapshotted on new sessions.
type Catalog interface {
	IDs(ctx context.Context) ([]string, error)
}

// Archive keeps terminal sessions after they leave memory.
type Archive interface {
	Save(ctx context.Context, s model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
}

type Options struct {
	Session session.Options
	Payment payment.Options
	Video   video.Options
}

type Deps struct {
	Dispatcher *gateway.Dispatcher
	Catalog    Catalog
	Provider   payment.Provider
	Tickets    *ticket.Issuer
	Audit      audit.Sink
	Archive    Archive
}

type SessionService struct {
	store    *session.Store
	disp     *gateway.Dispatcher
	catalog  Catalog
	payments *payment.Orchestrator
	video    *video.Coordinator
	tickets  *ticket.Issuer
	audit    audit.Sink
	archive  Archive
	log      *log.Logger

	root context.Context
	stop context.CancelFunc
	mu   sync.Mutex
	work map[string]workCtx // session id
	wg   sync.WaitGroup
}

type workCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options, deps Deps, logger *log.Logger) *SessionService {
	root, stop := context.WithCancel(context.Background())
	s := &SessionService{
		disp:    deps.Dispatcher,
		catalog: deps.Catalog,
		tickets: deps.Tickets,
		audit:   deps.Audit,
		archive: deps.Archive,
		log:     logger,
		root:    root,
		stop:    stop,
		work:    make(map[string]workCtx),
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	s.store = session.NewStore(opts.Session, s, logger)
	s.payments = payment.NewOrchestrator(deps.Provider, opts.Payment, s.applyInternal, logger)
	s.video = video.NewCoordinator(opts.Video, s.applyInternal, logger)
	return s
}

func (s *SessionService) Store() *session.Store           { return s.store }
func (s *SessionService) Payments() *payment.Orchestrator { return s.payments }
func (s *SessionService) Video() *video.Coordinator       { return s.video }

var _ gateway.Sessions = (*SessionService)(nil)

// Deliver applies a client event to the active session of kioskID.
// person_detected starts a session when the kiosk has none.
func (s *SessionService) Deliver(ctx context.Context, kioskID string, ev engine.Event) error {
	sess, err := s.store.ActiveForKiosk(kioskID)
	if errors.Is(err, session.ErrNotFound) && ev.Kind() == engine.EvPersonDetected {
		sess, err = s.start(ctx, kioskID)
	}
	if err != nil {
		metrics.EventRejected(string(ev.Kind()), engine.Code(err))
		return err
	}
	return s.applyInternal(sess.ID, ev)
}

func (s *SessionService) start(ctx context.Context, kioskID string) (model.Session, error) {
	var ids []string
	if s.catalog != nil {
		var err error
		if ids, err = s.catalog.IDs(ctx); err != nil {
			// An empty snapshot disables the animal check for this session.
			s.log.Warnj(log.JSON{"msg": "catalog unavailable", "kiosk_id": kioskID, "err": err.Error()})
		}
	}
	sess, err := s.store.Create(kioskID, ids)
	if err != nil {
		return model.Session{}, err
	}
	metrics.SessionCreated()
	s.disp.Send(kioskID, gateway.Message{Event: gateway.OutSessionCreated, Data: gateway.SessionCreatedData{
		SessionID: sess.ID,
		State:     sess.State,
	}})
	return sess, nil
}

// Connected replays the active session to a new connection of kioskID.
func (s *SessionService) Connected(kioskID string) {
	sess, err := s.store.ActiveForKiosk(kioskID)
	if err != nil {
		return
	}
	err = s.store.Resume(sess.ID, func(cur model.Session) {
		for _, m := range replay(cur) {
			s.disp.Send(kioskID, m)
		}
	})
	if err != nil {
		s.log.Debugj(log.JSON{"msg": "resume skipped", "kiosk_id": kioskID, "session_id": sess.ID, "code": engine.Code(err)})
	}
}

// Disconnected starts the reconnect grace window of the kiosk's session.
func (s *SessionService) Disconnected(kioskID string) {
	if sess, err := s.store.ActiveForKiosk(kioskID); err == nil {
		s.store.MarkDisconnected(sess.ID)
	}
}

// Get returns a live session, falling back to the archive.
func (s *SessionService) Get(ctx context.Context, id string) (model.Session, error) {
	sess, err := s.store.Get(id)
	if err == nil || !errors.Is(err, session.ErrNotFound) || s.archive == nil {
		return sess, err
	}
	archived, aerr := s.archive.Get(ctx, id)
	if aerr != nil {
		return model.Session{}, session.ErrNotFound
	}
	return *archived, nil
}

// Cancel ends a session on operator request.
func (s *SessionService) Cancel(id string) (model.Session, error) {
	res, err := s.store.Terminate(id, model.ReasonOperator)
	if err != nil {
		return model.Session{}, err
	}
	return res.Session, nil
}

// Active lists the live sessions.
func (s *SessionService) Active() []model.Session { return s.store.Active() }

// Run drives the sweeper until ctx is done.
func (s *SessionService) Run(ctx context.Context) error { return s.store.Run(ctx) }

// Shutdown cancels every live session, stops in-flight work and waits for
// pending archive writes.
func (s *SessionService) Shutdown(ctx context.Context) {
	s.store.Shutdown()
	s.stop()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warnj(log.JSON{"msg": "shutdown before background work finished"})
	}
}

func (s *SessionService) applyInternal(sessionID string, ev engine.Event) error {
	_, err := s.store.Apply(sessionID, ev)
	if err != nil {
		metrics.EventRejected(string(ev.Kind()), engine.Code(err))
	}
	return err
}

// Transitioned implements session.Observer.  It runs under the session
// lock, so frames of one session leave in transition order.  Effects that
// block run on their own goroutines.
func (s *SessionService) Transitioned(res engine.Result) {
	sess := res.Session

	s.audit.Record(audit.Record{
		SessionID: sess.ID,
		KioskID:   sess.KioskID,
		Event:     string(res.Event.Kind()),
		From:      string(res.From),
		To:        string(res.To),
		Reason:    sess.CancelReason,
		At:        sess.LastTransitionAt,
	})
	if res.Changed() {
		metrics.Transition(string(res.From), string(res.To))
	}
	s.observeOutcome(res)

	for _, m := range frames(res) {
		s.disp.Send(sess.KioskID, m)
	}

	for _, eff := range res.Effects {
		s.perform(sess, eff)
	}

	if sess.State.Terminal() {
		s.finish(sess)
	}
}

func (s *SessionService) observeOutcome(res engine.Result) {
	switch ev := res.Event.(type) {
	case engine.PaymentCompleted:
		metrics.Payment(string(res.Session.Payment.Method), "completed")
		s.payments.Forget(res.Session.ID)
	case engine.PaymentFailed:
		outcome := "failed"
		if ev.Reason == model.ReasonTimeout {
			outcome = "timeout"
		}
		metrics.Payment(string(res.Session.Payment.Method), outcome)
	case engine.VideoGenerationCompleted:
		metrics.RenderJob("succeeded")
	case engine.VideoGenerationFailed:
		if ev.Retry {
			metrics.RenderJob("retried")
		} else {
			metrics.RenderJob("failed")
		}
	}
}

func (s *SessionService) perform(sess model.Session, eff engine.Effect) {
	switch e := eff.(type) {
	case engine.StartMobilePayment:
		s.async(sess.ID, func(ctx context.Context) {
			s.payments.Start(ctx, payment.Attempt{ID: e.AttemptID, SessionID: sess.ID, KioskID: sess.KioskID, Method: model.PaymentMobileQR, Duration: e.Duration})
		})
	case engine.StartCardPayment:
		s.async(sess.ID, func(ctx context.Context) {
			s.payments.Start(ctx, payment.Attempt{ID: e.AttemptID, SessionID: sess.ID, KioskID: sess.KioskID, Method: model.PaymentCreditCard, Duration: e.Duration})
		})
	case engine.SubmitGeneration:
		job := video.Job{
			ID:          e.JobID,
			SessionID:   sess.ID,
			KioskID:     sess.KioskID,
			Attempt:     e.Attempt,
			TemplateID:  e.TemplateID,
			AnimalID:    e.AnimalID,
			UserName:    e.UserName,
			UserMessage: e.UserMessage,
		}
		s.async(sess.ID, func(ctx context.Context) { s.video.Submit(ctx, job) })
	case engine.IssueTicket:
		s.async(sess.ID, func(ctx context.Context) { s.issueTicket(ctx, sess) })
	case engine.CancelInFlight:
		s.cancelWork(sess.ID)
	}
}

func (s *SessionService) issueTicket(ctx context.Context, sess model.Session) {
	t, err := s.tickets.Issue(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Errorj(log.JSON{"msg": "ticket issue failed", "session_id": sess.ID, "kiosk_id": sess.KioskID, "err": err.Error()})
		s.disp.Send(sess.KioskID, gateway.ErrorMessage(err))
		return
	}
	_ = s.applyInternal(sess.ID, engine.TicketIssued{Ticket: t})
}

// async runs fn with the session's effect context.  The context ends when
// the session is cancelled or finishes.
func (s *SessionService) async(sessionID string, fn func(ctx context.Context)) {
	s.mu.Lock()
	w, ok := s.work[sessionID]
	if !ok {
		w.ctx, w.cancel = context.WithCancel(s.root)
		s.work[sessionID] = w
	}
	s.mu.Unlock()
	go fn(w.ctx)
}

func (s *SessionService) cancelWork(sessionID string) {
	s.mu.Lock()
	if w, ok := s.work[sessionID]; ok {
		w.cancel()
		delete(s.work, sessionID)
	}
	s.mu.Unlock()
	s.payments.Forget(sessionID)
	s.video.Forget(sessionID)
}

func (s *SessionService) finish(sess model.Session) {
	s.cancelWork(sess.ID)
	metrics.SessionEnded(string(sess.State), sess.CancelReason)
	if s.archive == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.archive.Save(ctx, sess); err != nil {
			s.log.Errorj(log.JSON{"msg": "session archive failed", "session_id": sess.ID, "err": err.Error()})
		}
	}()
}
