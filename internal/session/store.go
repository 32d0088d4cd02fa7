// Package session keeps the live kiosk sessions.  The Store enforces the
// one-active-session-per-kiosk rule, serialises events per session and
// cancels sessions that stay too long in a state or lose their connection.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/model"
)

var (
	ErrNotFound      = engine.NewError(engine.CodeNotFound, "session not found")
	ErrAlreadyActive = engine.NewError(engine.CodeAlreadyActive, "kiosk already has an active session")
)

// Observer receives every accepted event.  It runs while the session lock
// is held, so it sees transitions of one session in order and must not call
// back into the Store for the same session.
type Observer interface {
	Transitioned(res engine.Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(res engine.Result)

func (f ObserverFunc) Transitioned(res engine.Result) { f(res) }

// Options tunes the timers of the Store.  Zero durations fall back to the
// defaults used by config.Load.
type Options struct {
	IdleTimeout    time.Duration
	StateTimeouts  map[model.State]time.Duration
	ReconnectGrace time.Duration
	SweepInterval  time.Duration
	Retention      time.Duration
	Now            func() time.Time
	NewID          func() string
}

func (o *Options) defaults() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 3 * time.Minute
	}
	if o.ReconnectGrace <= 0 {
		o.ReconnectGrace = 60 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 10 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// expired reports whether sess sat idle for longer than IdleTimeout or
// stayed in its state longer than the state's own limit.
func (o Options) expired(sess model.Session, now time.Time) bool {
	if now.Sub(sess.LastTransitionAt) >= o.IdleTimeout {
		return true
	}
	d, ok := o.StateTimeouts[sess.State]
	return ok && d > 0 && now.Sub(sess.StateEnteredAt) >= d
}

type entry struct {
	mu             sync.Mutex
	s              model.Session
	connected      bool
	disconnectedAt time.Time
	endedAt        time.Time
}

// Store is safe for concurrent use by connection workers, orchestrators
// and the sweeper.  Lock order is entry.mu before Store.mu.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	active   map[string]string // kioskID -> sessionID

	opts Options
	obs  Observer
	log  *log.Logger
}

func NewStore(opts Options, obs Observer, logger *log.Logger) *Store {
	opts.defaults()
	if obs == nil {
		obs = ObserverFunc(func(engine.Result) {})
	}
	if logger == nil {
		logger = log.New("session")
	}
	return &Store{
		sessions: make(map[string]*entry),
		active:   make(map[string]string),
		opts:     opts,
		obs:      obs,
		log:      logger,
	}
}

// Options returns the effective timer configuration.
func (s *Store) Options() Options { return s.opts }

// Create starts a session in the initial state for kioskID.  catalog holds
// the animal ids selectable during the session.
func (s *Store) Create(kioskID string, catalog []string) (model.Session, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[kioskID]; ok {
		return model.Session{}, ErrAlreadyActive
	}

	sess := model.Session{
		ID:               s.opts.NewID(),
		KioskID:          kioskID,
		State:            model.StateInitial,
		Catalog:          append([]string(nil), catalog...),
		CreatedAt:        now,
		StateEnteredAt:   now,
		LastTransitionAt: now,
	}
	s.sessions[sess.ID] = &entry{s: sess, connected: true}
	s.active[kioskID] = sess.ID

	s.log.Infoj(log.JSON{"msg": "session created", "session_id": sess.ID, "kiosk_id": kioskID})
	return sess.Clone(), nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (model.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return model.Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// ActiveForKiosk returns the non-terminal session of kioskID.
func (s *Store) ActiveForKiosk(kioskID string) (model.Session, error) {
	s.mu.RLock()
	id, ok := s.active[kioskID]
	s.mu.RUnlock()
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s.Get(id)
}

// Apply runs ev against the session under its lock.  Accepted events are
// stored and handed to the observer before the lock is released.
func (s *Store) Apply(id string, ev engine.Event) (engine.Result, error) {
	e, ok := s.lookup(id)
	if !ok {
		return engine.Result{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.applyLocked(e, ev)
}

func (s *Store) applyLocked(e *entry, ev engine.Event) (engine.Result, error) {
	now := s.opts.Now()
	res, err := engine.Apply(e.s, ev, now)
	if err != nil {
		kind := ""
		if ev != nil {
			kind = string(ev.Kind())
		}
		s.log.Warnj(log.JSON{
			"msg":        "event rejected",
			"session_id": e.s.ID,
			"kiosk_id":   e.s.KioskID,
			"state":      e.s.State,
			"event":      kind,
			"code":       engine.Code(err),
			"error":      err.Error(),
		})
		return engine.Result{}, err
	}

	e.s = res.Session
	if e.s.State.Terminal() {
		e.endedAt = now
		s.mu.Lock()
		if s.active[e.s.KioskID] == e.s.ID {
			delete(s.active, e.s.KioskID)
		}
		s.mu.Unlock()
	}
	if res.Changed() {
		s.log.Infoj(log.JSON{
			"msg":        "transition",
			"session_id": e.s.ID,
			"kiosk_id":   e.s.KioskID,
			"event":      ev.Kind(),
			"from":       res.From,
			"to":         res.To,
		})
	}

	res.Session = e.s.Clone()
	s.obs.Transitioned(res)
	return res, nil
}

// Terminate cancels the session with reason.
func (s *Store) Terminate(id, reason string) (engine.Result, error) {
	return s.Apply(id, engine.SessionCancelled{Reason: reason})
}

// MarkDisconnected starts the reconnect grace window of the session.
func (s *Store) MarkDisconnected(id string) {
	e, ok := s.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return
	}
	e.connected = false
	e.disconnectedAt = s.opts.Now()
	s.log.Infoj(log.JSON{"msg": "connection lost", "session_id": id, "kiosk_id": e.s.KioskID, "state": e.s.State})
}

// MarkConnected re-attaches a connection and stops the grace window.
func (s *Store) MarkConnected(id string) {
	e, ok := s.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.connected = true
	e.disconnectedAt = time.Time{}
	e.mu.Unlock()
}

// Resume re-attaches a connection to the session and runs fn with a
// snapshot while the session lock is held, so nothing the observer emits
// for this session can overtake what fn sends.
func (s *Store) Resume(id string, fn func(model.Session)) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State.Terminal() {
		return engine.ErrSessionTerminal
	}
	e.connected = true
	e.disconnectedAt = time.Time{}
	s.log.Infoj(log.JSON{"msg": "session resumed", "session_id": id, "kiosk_id": e.s.KioskID, "state": e.s.State})
	fn(e.s.Clone())
	return nil
}

// Active lists snapshots of the non-terminal sessions ordered by creation.
func (s *Store) Active() []model.Session {
	s.mu.RLock()
	ids := make([]string, 0, len(s.active))
	for _, id := range s.active {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]model.Session, 0, len(ids))
	for _, id := range ids {
		if sess, err := s.Get(id); err == nil && !sess.State.Terminal() {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep cancels sessions that exceeded their dwell limit or reconnect
// grace and forgets terminal sessions older than the retention window.
// It returns the number of sessions it cancelled.
func (s *Store) Sweep() int {
	now := s.opts.Now()

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	cancelled := 0
	var expired []string
	for _, e := range entries {
		e.mu.Lock()
		switch {
		case e.s.State.Terminal():
			if now.Sub(e.endedAt) >= s.opts.Retention {
				expired = append(expired, e.s.ID)
			}
		case !e.connected && now.Sub(e.disconnectedAt) >= s.opts.ReconnectGrace:
			if _, err := s.applyLocked(e, engine.SessionCancelled{Reason: model.ReasonConnectionLost}); err == nil {
				cancelled++
			}
		case s.opts.expired(e.s, now):
			if _, err := s.applyLocked(e, engine.SessionCancelled{Reason: model.ReasonTimeout}); err == nil {
				cancelled++
			}
		}
		e.mu.Unlock()
	}

	if len(expired) > 0 {
		s.mu.Lock()
		for _, id := range expired {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}
	return cancelled
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	t := time.NewTicker(s.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.log.Infoj(log.JSON{"msg": "sweeper cancelled sessions", "count": n})
			}
		}
	}
}

// Shutdown cancels every active session with reason shutdown.
func (s *Store) Shutdown() {
	for _, sess := range s.Active() {
		_, _ = s.Terminate(sess.ID, model.ReasonShutdown)
	}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	return e, ok
}
