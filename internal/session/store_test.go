package session

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/model"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	results []engine.Result
}

func (r *recorder) Transitioned(res engine.Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) last() engine.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[len(r.results)-1]
}

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T, opts Options) (*Store, *clock, *recorder) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	var seq int64
	opts.Now = c.Now
	opts.NewID = func() string { return fmt.Sprintf("sess-%d", atomic.AddInt64(&seq, 1)) }
	rec := &recorder{}
	return NewStore(opts, rec, quietLogger()), c, rec
}

func TestCreate_SecondActiveSessionRejected(t *testing.T) {
	st, _, _ := newTestStore(t, Options{})

	first, err := st.Create("k1", nil)
	require.NoError(t, err)
	_, err = st.Apply(first.ID, engine.PersonDetected{Confidence: 0.9})
	require.NoError(t, err)

	_, err = st.Create("k1", nil)
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, engine.CodeAlreadyActive, engine.Code(err))

	got, err := st.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateMotionDetection, got.State)

	other, err := st.Create("k2", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreate_AllowedAfterTerminal(t *testing.T) {
	st, _, _ := newTestStore(t, Options{})

	first, err := st.Create("k1", nil)
	require.NoError(t, err)
	_, err = st.Terminate(first.ID, model.ReasonOperator)
	require.NoError(t, err)

	_, err = st.ActiveForKiosk("k1")
	assert.ErrorIs(t, err, ErrNotFound)

	second, err := st.Create("k1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := st.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, old.State)
	assert.Equal(t, model.ReasonOperator, old.CancelReason)
}

func TestCreate_ConcurrentCreatesYieldOneSession(t *testing.T) {
	st, _, _ := newTestStore(t, Options{})

	var wg sync.WaitGroup
	var ok, dup int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Create("k1", nil); err == nil {
				atomic.AddInt64(&ok, 1)
			} else if assert.ErrorIs(t, err, ErrAlreadyActive) {
				atomic.AddInt64(&dup, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 49, dup)
	assert.Len(t, st.Active(), 1)
}

func TestApply_UnknownSession(t *testing.T) {
	st, _, _ := newTestStore(t, Options{})
	_, err := st.Apply("nope", engine.MotionCompleted{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_SerialisesEventsPerSession(t *testing.T) {
	st, _, rec := newTestStore(t, Options{})
	sess, err := st.Create("k1", nil)
	require.NoError(t, err)

	// Exactly one of many concurrent person_detected events may win.
	var wg sync.WaitGroup
	var accepted int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Apply(sess.ID, engine.PersonDetected{Confidence: 0.5}); err == nil {
				atomic.AddInt64(&accepted, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, accepted)
	assert.Len(t, rec.results, 1)
}

func TestApply_RejectedEventLeavesStateAndSkipsObserver(t *testing.T) {
	st, _, rec := newTestStore(t, Options{})
	sess, err := st.Create("k1", nil)
	require.NoError(t, err)

	_, err = st.Apply(sess.ID, engine.MotionCompleted{})
	var sm *engine.StateMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Empty(t, rec.results)

	got, _ := st.Get(sess.ID)
	assert.Equal(t, model.StateInitial, got.State)
}

func TestGet_ReturnsIsolatedSnapshot(t *testing.T) {
	st, _, _ := newTestStore(t, Options{})
	sess, err := st.Create("k1", []string{"a1"})
	require.NoError(t, err)

	snap, _ := st.Get(sess.ID)
	snap.Catalog[0] = "mutated"

	again, _ := st.Get(sess.ID)
	assert.Equal(t, []string{"a1"}, again.Catalog)
}

func TestSweep_IdleTimeoutCancels(t *testing.T) {
	st, c, rec := newTestStore(t, Options{IdleTimeout: time.Minute})
	sess, err := st.Create("k1", nil)
	require.NoError(t, err)

	c.Advance(59 * time.Second)
	assert.Equal(t, 0, st.Sweep())

	c.Advance(time.Second)
	assert.Equal(t, 1, st.Sweep())

	got, _ := st.Get(sess.ID)
	assert.Equal(t, model.StateCancelled, got.State)
	assert.Equal(t, model.ReasonTimeout, got.CancelReason)
	assert.Equal(t, model.StateCancelled, rec.last().To)

	_, err = st.Create("k1", nil)
	assert.NoError(t, err)
}

func TestSweep_StateLimitOverridesIdle(t *testing.T) {
	st, c, _ := newTestStore(t, Options{
		IdleTimeout:   time.Minute,
		StateTimeouts: map[model.State]time.Duration{model.StateMotionDetection: 10 * time.Second},
	})
	sess, _ := st.Create("k1", nil)
	_, err := st.Apply(sess.ID, engine.PersonDetected{Confidence: 1})
	require.NoError(t, err)

	c.Advance(10 * time.Second)
	assert.Equal(t, 1, st.Sweep())
	got, _ := st.Get(sess.ID)
	assert.Equal(t, model.StateCancelled, got.State)
}

func TestSweep_SideChannelEventsKeepSessionAlive(t *testing.T) {
	st, c, _ := newTestStore(t, Options{IdleTimeout: time.Minute})
	sess, _ := st.Create("k1", nil)

	steps := []engine.Event{
		engine.PersonDetected{Confidence: 1},
		engine.MotionCompleted{},
		engine.AnimalSelected{AnimalID: "a1"},
		engine.UserInputSubmitted{UserName: "a", UserMessage: "b"},
		engine.DurationSelected{Duration: model.Duration1Day},
		engine.PaymentMethodSelected{Method: model.PaymentMobileQR},
		engine.PaymentCompleted{TransactionID: "tx"},
		engine.VideoTemplateSelected{TemplateID: "t1"},
	}
	for _, ev := range steps {
		_, err := st.Apply(sess.ID, ev)
		require.NoError(t, err)
	}
	for p := 10; p <= 50; p += 10 {
		c.Advance(40 * time.Second)
		_, err := st.Apply(sess.ID, engine.VideoGenerationProgress{Progress: p})
		require.NoError(t, err)
		assert.Equal(t, 0, st.Sweep())
	}
}

func TestSweep_ReconnectGrace(t *testing.T) {
	st, c, _ := newTestStore(t, Options{IdleTimeout: time.Hour, ReconnectGrace: 30 * time.Second})
	sess, _ := st.Create("k1", nil)

	st.MarkDisconnected(sess.ID)
	c.Advance(20 * time.Second)
	assert.Equal(t, 0, st.Sweep())

	// Reconnecting inside the window keeps the session.
	st.MarkConnected(sess.ID)
	c.Advance(20 * time.Second)
	assert.Equal(t, 0, st.Sweep())

	st.MarkDisconnected(sess.ID)
	c.Advance(30 * time.Second)
	assert.Equal(t, 1, st.Sweep())
	got, _ := st.Get(sess.ID)
	assert.Equal(t, model.StateCancelled, got.State)
	assert.Equal(t, model.ReasonConnectionLost, got.CancelReason)
}

func TestResume_ReattachesAndRunsUnderLock(t *testing.T) {
	st, c, _ := newTestStore(t, Options{IdleTimeout: time.Hour, ReconnectGrace: 30 * time.Second})
	sess, _ := st.Create("k1", nil)
	_, err := st.Apply(sess.ID, engine.PersonDetected{Confidence: 0.8})
	require.NoError(t, err)
	st.MarkDisconnected(sess.ID)

	var seen model.Session
	require.NoError(t, st.Resume(sess.ID, func(s model.Session) { seen = s }))
	assert.Equal(t, model.StateMotionDetection, seen.State)

	c.Advance(time.Minute)
	assert.Equal(t, 0, st.Sweep())

	_, err = st.Terminate(sess.ID, model.ReasonUser)
	require.NoError(t, err)
	assert.ErrorIs(t, st.Resume(sess.ID, func(model.Session) {}), engine.ErrSessionTerminal)
	assert.ErrorIs(t, st.Resume("missing", func(model.Session) {}), ErrNotFound)
}

func TestSweep_DropsTerminalSessionsAfterRetention(t *testing.T) {
	st, c, _ := newTestStore(t, Options{Retention: time.Minute})
	sess, _ := st.Create("k1", nil)
	_, err := st.Terminate(sess.ID, model.ReasonUser)
	require.NoError(t, err)

	c.Advance(59 * time.Second)
	st.Sweep()
	_, err = st.Get(sess.ID)
	require.NoError(t, err)

	c.Advance(time.Second)
	st.Sweep()
	_, err = st.Get(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShutdown_CancelsActiveSessions(t *testing.T) {
	st, _, _ := newTestStore(t, Options{})
	a, _ := st.Create("k1", nil)
	b, _ := st.Create("k2", nil)

	st.Shutdown()

	for _, id := range []string{a.ID, b.ID} {
		got, err := st.Get(id)
		require.NoError(t, err)
		assert.Equal(t, model.StateCancelled, got.State)
		assert.Equal(t, model.ReasonShutdown, got.CancelReason)
	}
	assert.Empty(t, st.Active())
}
