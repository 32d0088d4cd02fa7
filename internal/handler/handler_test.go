package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/payment"
	"github.com/iliyamo/kiosk-session-server/internal/repository"
	"github.com/iliyamo/kiosk-session-server/internal/session"
	"github.com/iliyamo/kiosk-session-server/internal/utils"
)

const testSecret = "test-jwt-secret"

func newCtx(method, target, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		var names, values []string
		for i := 0; i+1 < len(params); i += 2 {
			names = append(names, params[i])
			values = append(values, params[i+1])
		}
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	return c, rec
}

func registry(t *testing.T) *repository.MemoryKioskRepo {
	t.Helper()
	r, err := repository.NewMemoryKioskRepo(map[string]string{"k1": "s3cret", "k2": "other"}, bcrypt.MinCost)
	require.NoError(t, err)
	return r
}

type presence map[string]bool

func (p presence) Connected(id string) bool { return p[id] }

type fakeTokenLog struct {
	recorded map[string]string // kiosk id -> token hash
	revoked  map[string]bool
	err      error
}

func newTokenLog() *fakeTokenLog {
	return &fakeTokenLog{recorded: map[string]string{}, revoked: map[string]bool{}}
}

func (f *fakeTokenLog) Record(_ context.Context, kioskID, hash string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.recorded[kioskID] = hash
	return nil
}

func (f *fakeTokenLog) RevokeAllForKiosk(_ context.Context, kioskID string) (int64, error) {
	f.revoked[kioskID] = true
	return 1, nil
}

func (f *fakeTokenLog) Check(_ context.Context, kioskID, hash string) error {
	if f.revoked[kioskID] || f.recorded[kioskID] != hash {
		return repository.ErrNotFound
	}
	return nil
}

func TestKioskHandler_GenerateToken(t *testing.T) {
	log := newTokenLog()
	h := NewKioskHandler(registry(t), log, nil, testSecret, time.Hour)

	c, rec := newCtx(http.MethodPost, "/v1/kiosks/k1/generate-token", `{"secret":"s3cret"}`, "id", "k1")
	require.NoError(t, h.GenerateToken(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp generateTokenResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "k1", resp.KioskID)
	id, err := utils.ParseKioskToken(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "k1", id)
	assert.Equal(t, utils.HashToken(resp.Token), log.recorded["k1"])
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)
}

func TestKioskHandler_GenerateTokenRejects(t *testing.T) {
	h := NewKioskHandler(registry(t), nil, nil, testSecret, time.Hour)

	cases := []struct {
		name string
		id   string
		body string
		code int
	}{
		{"wrong secret", "k1", `{"secret":"nope"}`, http.StatusUnauthorized},
		{"unknown kiosk", "k9", `{"secret":"s3cret"}`, http.StatusUnauthorized},
		{"missing secret", "k1", `{}`, http.StatusBadRequest},
		{"malformed body", "k1", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newCtx(http.MethodPost, "/", tc.body, "id", tc.id)
			require.NoError(t, h.GenerateToken(c))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestKioskHandler_GenerateTokenRecordFailure(t *testing.T) {
	log := newTokenLog()
	log.err = errors.New("db down")
	h := NewKioskHandler(registry(t), log, nil, testSecret, time.Hour)

	c, rec := newCtx(http.MethodPost, "/", `{"secret":"s3cret"}`, "id", "k1")
	require.NoError(t, h.GenerateToken(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestKioskHandler_List(t *testing.T) {
	h := NewKioskHandler(registry(t), nil, presence{"k2": true}, testSecret, time.Hour)

	c, rec := newCtx(http.MethodGet, "/v1/kiosks", "")
	require.NoError(t, h.List(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Kiosks []struct {
			ID        string `json:"id"`
			Connected bool   `json:"connected"`
		} `json:"kiosks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Kiosks, 2)
	assert.Equal(t, "k1", resp.Kiosks[0].ID)
	assert.False(t, resp.Kiosks[0].Connected)
	assert.True(t, resp.Kiosks[1].Connected)
	assert.NotContains(t, rec.Body.String(), "SecretHash")
}

func TestKioskHandler_RevokeTokens(t *testing.T) {
	c, rec := newCtx(http.MethodPost, "/", "", "id", "k1")
	require.NoError(t, NewKioskHandler(registry(t), nil, nil, testSecret, time.Hour).RevokeTokens(c))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	log := newTokenLog()
	c, rec = newCtx(http.MethodPost, "/", "", "id", "k1")
	require.NoError(t, NewKioskHandler(registry(t), log, nil, testSecret, time.Hour).RevokeTokens(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":1}`, rec.Body.String())
	assert.True(t, log.revoked["k1"])
}

type fakeChannel struct {
	served []string
}

func (f *fakeChannel) Serve(w http.ResponseWriter, _ *http.Request, kioskID string) error {
	f.served = append(f.served, kioskID)
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

func TestChannelHandler_Connect(t *testing.T) {
	tok, err := utils.NewKioskToken(testSecret, "k1", time.Hour)
	require.NoError(t, err)
	unknown, err := utils.NewKioskToken(testSecret, "k9", time.Hour)
	require.NoError(t, err)
	admin, err := utils.NewToken(testSecret, "ops", utils.RoleAdmin, time.Hour, time.Now())
	require.NoError(t, err)
	expired, err := utils.NewToken(testSecret, "k1", utils.RoleKiosk, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"admin role", admin.Token},
		{"expired", expired.Token},
		{"unknown kiosk", unknown.Token},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := &fakeChannel{}
			h := NewChannelHandler(testSecret, registry(t), nil, ch)
			c, rec := newCtx(http.MethodGet, "/v1/kiosks/ws?token="+tc.token, "")
			require.NoError(t, h.Connect(c))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), engine.CodeUnauthorized)
			assert.Empty(t, ch.served)
		})
	}

	t.Run("valid", func(t *testing.T) {
		ch := &fakeChannel{}
		h := NewChannelHandler(testSecret, registry(t), nil, ch)
		c, _ := newCtx(http.MethodGet, "/v1/kiosks/ws?token="+tok.Token, "")
		require.NoError(t, h.Connect(c))
		assert.Equal(t, []string{"k1"}, ch.served)
	})

	t.Run("bearer header", func(t *testing.T) {
		ch := &fakeChannel{}
		h := NewChannelHandler(testSecret, registry(t), nil, ch)
		c, _ := newCtx(http.MethodGet, "/v1/kiosks/ws", "")
		c.Request().Header.Set("Authorization", "Bearer "+tok.Token)
		require.NoError(t, h.Connect(c))
		assert.Equal(t, []string{"k1"}, ch.served)
	})

	t.Run("revoked", func(t *testing.T) {
		log := newTokenLog()
		log.recorded["k1"] = utils.HashToken(tok.Token)
		log.revoked["k1"] = true
		ch := &fakeChannel{}
		h := NewChannelHandler(testSecret, registry(t), log, ch)
		c, rec := newCtx(http.MethodGet, "/v1/kiosks/ws?token="+tok.Token, "")
		require.NoError(t, h.Connect(c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, ch.served)
	})
}

type fakeNotifier struct {
	got []payment.Notification
	err error
}

func (f *fakeNotifier) Notify(n payment.Notification) error {
	f.got = append(f.got, n)
	return f.err
}

func signedWebhook(t *testing.T, h *WebhookHandler, body, sig string) *httptest.ResponseRecorder {
	t.Helper()
	c, rec := newCtx(http.MethodPost, "/v1/payments/webhook", body)
	if sig != "" {
		c.Request().Header.Set(payment.SignatureHeader, sig)
	}
	require.NoError(t, h.Payment(c))
	return rec
}

func TestWebhookHandler_Payment(t *testing.T) {
	const secret = "whsec"
	body := `{"orderId":"s1-p1","transactionId":"tx1","status":"paid"}`

	t.Run("bad signature", func(t *testing.T) {
		n := &fakeNotifier{}
		rec := signedWebhook(t, NewWebhookHandler(n, secret), body, "deadbeef")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, n.got)
	})

	t.Run("unknown status", func(t *testing.T) {
		raw := `{"orderId":"s1-p1","status":"weird"}`
		rec := signedWebhook(t, NewWebhookHandler(&fakeNotifier{}, secret), raw, payment.Sign(secret, []byte(raw)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	cases := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"applied", nil, http.StatusOK, "applied"},
		{"unknown attempt", payment.ErrUnknownAttempt, http.StatusNotFound, "unknown payment attempt"},
		{"stale", engine.ErrStaleResult, http.StatusOK, "discarded"},
		{"terminal", engine.ErrSessionTerminal, http.StatusOK, "discarded"},
		{"mismatch", &engine.StateMismatchError{State: model.StateFinalPreview, Event: engine.EvPaymentCompleted}, http.StatusConflict, engine.CodeStateMismatch},
		{"other", errors.New("boom"), http.StatusInternalServerError, "apply notification failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := &fakeNotifier{err: tc.err}
			rec := signedWebhook(t, NewWebhookHandler(n, secret), body, payment.Sign(secret, []byte(body)))
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
			require.Len(t, n.got, 1)
			assert.Equal(t, payment.StatusCompleted, n.got[0].Status)
			assert.Equal(t, "s1-p1", n.got[0].OrderID)
		})
	}
}

func TestWebhookHandler_SandboxPay(t *testing.T) {
	n := &fakeNotifier{}
	c, rec := newCtx(http.MethodPost, "/sandbox/pay/s1-p2", "", "attempt", "s1-p2")
	require.NoError(t, NewWebhookHandler(n, "").SandboxPay(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, n.got, 1)
	assert.Equal(t, payment.Notification{OrderID: "s1-p2", Status: payment.StatusCompleted}, n.got[0])

	n.err = payment.ErrUnknownAttempt
	c, rec = newCtx(http.MethodPost, "/sandbox/pay/x", "", "attempt", "x")
	require.NoError(t, NewWebhookHandler(n, "").SandboxPay(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	n.err = engine.ErrStaleResult
	c, rec = newCtx(http.MethodPost, "/sandbox/pay/x", "", "attempt", "x")
	require.NoError(t, NewWebhookHandler(n, "").SandboxPay(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), engine.CodeStaleResult)
}

type fakeSessions struct {
	live map[string]model.Session
}

func (f *fakeSessions) Get(_ context.Context, id string) (model.Session, error) {
	s, ok := f.live[id]
	if !ok {
		return model.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) Cancel(id string) (model.Session, error) {
	s, ok := f.live[id]
	if !ok {
		return model.Session{}, session.ErrNotFound
	}
	if s.State.Terminal() {
		return model.Session{}, engine.ErrSessionTerminal
	}
	s.State = model.StateCancelled
	s.CancelReason = model.ReasonOperator
	f.live[id] = s
	return s, nil
}

func (f *fakeSessions) Active() []model.Session {
	var out []model.Session
	for _, s := range f.live {
		if !s.State.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

func TestSessionHandler(t *testing.T) {
	f := &fakeSessions{live: map[string]model.Session{
		"s1": {ID: "s1", KioskID: "k1", State: model.StateUserInput},
		"s2": {ID: "s2", KioskID: "k2", State: model.StateCompleted},
	}}
	h := NewSessionHandler(f)

	c, rec := newCtx(http.MethodGet, "/v1/sessions", "")
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessionId":"s1"`)
	assert.NotContains(t, rec.Body.String(), `"sessionId":"s2"`)

	c, rec = newCtx(http.MethodGet, "/", "", "id", "s2")
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"completed"`)

	c, rec = newCtx(http.MethodGet, "/", "", "id", "nope")
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c, rec = newCtx(http.MethodPost, "/", "", "id", "s1")
	require.NoError(t, h.Cancel(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelReason":"operator"`)

	c, rec = newCtx(http.MethodPost, "/", "", "id", "s2")
	require.NoError(t, h.Cancel(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	c, rec = newCtx(http.MethodPost, "/", "", "id", "nope")
	require.NoError(t, h.Cancel(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeTickets map[string]model.Ticket

func (f fakeTickets) Get(_ context.Context, id string) (model.Ticket, error) {
	t, ok := f[id]
	if !ok {
		return model.Ticket{}, repository.ErrNotFound
	}
	return t, nil
}

func TestTicketHandler(t *testing.T) {
	start := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	h := NewTicketHandler(fakeTickets{"t1": {
		TicketID:      "t1",
		SessionID:     "s1",
		KioskID:       "k1",
		QRCode:        "http://test/v1/tickets/t1",
		PDFURL:        "http://test/v1/tickets/t1/pdf",
		Duration:      model.Duration6Months,
		DisplayWindow: model.DisplayWindow{Start: start, End: model.Duration6Months.End(start)},
		CreatedAt:     start,
	}})

	c, rec := newCtx(http.MethodGet, "/", "", "id", "t1")
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ticketId":"t1"`)

	c, rec = newCtx(http.MethodGet, "/", "", "id", "t1")
	require.NoError(t, h.PDF(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	for _, fn := range []echo.HandlerFunc{h.Get, h.PDF} {
		c, rec = newCtx(http.MethodGet, "/", "", "id", "missing")
		require.NoError(t, fn(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestHealth(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/healthz", "")
	require.NoError(t, Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}
