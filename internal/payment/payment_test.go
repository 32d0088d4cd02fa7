package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/model"
)

type applied struct {
	mu     sync.Mutex
	events []engine.Event
	ch     chan engine.Event
	err    error
}

func newApplied() *applied { return &applied{ch: make(chan engine.Event, 16)} }

func (a *applied) apply(sessionID string, ev engine.Event) error {
	a.mu.Lock()
	a.events = append(a.events, ev)
	err := a.err
	a.mu.Unlock()
	a.ch <- ev
	return err
}

func (a *applied) next(t *testing.T) engine.Event {
	t.Helper()
	select {
	case ev := <-a.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event applied")
		return nil
	}
}

type fakeProvider struct {
	err error
}

func (fakeProvider) Name() string { return "fake" }

func (f fakeProvider) CreateCheckout(ctx context.Context, req Request) (Checkout, error) {
	if f.err != nil {
		return Checkout{}, f.err
	}
	return Checkout{TransactionID: "tx-" + req.AttemptID, PaymentURL: "https://pay.example/" + req.AttemptID}, nil
}

func (f fakeProvider) ArmTerminal(ctx context.Context, req Request) (Checkout, error) {
	if f.err != nil {
		return Checkout{}, f.err
	}
	return Checkout{TransactionID: "tx-" + req.AttemptID}, nil
}

func quietLogger() *log.Logger {
	l := log.New("payment-test")
	l.SetOutput(io.Discard)
	return l
}

var prices = map[model.DurationTier]int64{model.Duration30Days: 30000}

func mobileAttempt() Attempt {
	return Attempt{ID: "s1-p1", SessionID: "s1", KioskID: "k1", Method: model.PaymentMobileQR, Duration: model.Duration30Days}
}

func TestStart_MobileDeliversQR(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{}, Options{Timeout: time.Minute, Prices: prices}, rec.apply, quietLogger())

	o.Start(context.Background(), mobileAttempt())

	ev, ok := rec.next(t).(engine.PaymentQRReady)
	require.True(t, ok)
	assert.Equal(t, "s1-p1", ev.AttemptID)
	assert.Equal(t, "tx-s1-p1", ev.TransactionID)
	assert.Equal(t, "https://pay.example/s1-p1", ev.PaymentURL)
	assert.True(t, strings.HasPrefix(ev.QRCode, "data:image/png;base64,"))
	assert.Equal(t, 1, o.Pending())
}

func TestStart_CardWaitsForNotification(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{}, Options{Timeout: time.Minute, Prices: prices}, rec.apply, quietLogger())
	a := mobileAttempt()
	a.Method = model.PaymentCreditCard

	o.Start(context.Background(), a)
	assert.Equal(t, 1, o.Pending())
	assert.Empty(t, rec.events)

	require.NoError(t, o.Notify(Notification{TransactionID: "tx-s1-p1", Status: StatusCompleted}))
	assert.Equal(t, engine.PaymentCompleted{AttemptID: "s1-p1", TransactionID: "tx-s1-p1"}, rec.next(t))
	assert.Equal(t, 0, o.Pending())
}

func TestStart_ProviderErrorIsRetryableFailure(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{err: &GatewayError{Status: 503, Message: "down"}}, Options{Prices: prices}, rec.apply, quietLogger())

	o.Start(context.Background(), mobileAttempt())

	ev, ok := rec.next(t).(engine.PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "gateway_error", ev.Reason)
	assert.True(t, ev.Retryable)
	assert.Equal(t, 0, o.Pending())
}

func TestStart_CancelledContextReportsNothing(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{err: context.Canceled}, Options{Prices: prices}, rec.apply, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o.Start(ctx, mobileAttempt())
	assert.Empty(t, rec.events)
}

func TestTimeout_FailsAttemptThenLateConfirmationSettles(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{}, Options{Timeout: 20 * time.Millisecond, Prices: prices}, rec.apply, quietLogger())

	o.Start(context.Background(), mobileAttempt())
	_ = rec.next(t) // qr

	ev, ok := rec.next(t).(engine.PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, model.ReasonTimeout, ev.Reason)
	assert.True(t, ev.Retryable)
	assert.Equal(t, "tx-s1-p1", ev.TransactionID)

	// still known after the timeout
	require.NoError(t, o.Notify(Notification{OrderID: "s1-p1", Status: StatusCompleted}))
	assert.Equal(t, engine.PaymentCompleted{AttemptID: "s1-p1", TransactionID: "tx-s1-p1"}, rec.next(t))
}

func TestNotify_DeclineRetryability(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{}, Options{Timeout: time.Minute, Prices: prices}, rec.apply, quietLogger())

	o.Start(context.Background(), mobileAttempt())
	_ = rec.next(t)
	require.NoError(t, o.Notify(Notification{OrderID: "s1-p1", Status: StatusFailed, Reason: "fraud_block"}))
	ev := rec.next(t).(engine.PaymentFailed)
	assert.False(t, ev.Retryable)

	assert.ErrorIs(t, o.Notify(Notification{OrderID: "s1-p1", Status: StatusCompleted}), ErrUnknownAttempt)
}

func TestNotify_PropagatesApplyError(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{}, Options{Timeout: time.Minute, Prices: prices}, rec.apply, quietLogger())
	o.Start(context.Background(), mobileAttempt())
	_ = rec.next(t)

	rec.mu.Lock()
	rec.err = engine.ErrStaleResult
	rec.mu.Unlock()
	assert.ErrorIs(t, o.Notify(Notification{OrderID: "s1-p1", Status: StatusCompleted}), engine.ErrStaleResult)
}

func TestForget_StopsTimers(t *testing.T) {
	rec := newApplied()
	o := NewOrchestrator(fakeProvider{}, Options{Timeout: 30 * time.Millisecond, Prices: prices}, rec.apply, quietLogger())
	a := mobileAttempt()
	a.Method = model.PaymentCreditCard
	o.Start(context.Background(), a)

	o.Forget("s1")
	assert.Equal(t, 0, o.Pending())
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.events)
}

func TestPrice(t *testing.T) {
	o := NewOrchestrator(fakeProvider{}, Options{Prices: prices}, nil, quietLogger())
	amount, err := o.Price(model.Duration30Days)
	require.NoError(t, err)
	assert.EqualValues(t, 30000, amount)

	_, err = o.Price(model.Duration1Year)
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"orderId":"s1-p1","status":"paid"}`)
	sig := Sign("whsec", body)

	assert.True(t, VerifySignature("whsec", body, sig))
	assert.True(t, VerifySignature("whsec", body, "sha256="+sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("whsec", []byte(`{"orderId":"s1-p2","status":"paid"}`), sig))
	assert.False(t, VerifySignature("whsec", body, "zz"))
	assert.False(t, VerifySignature("", body, sig))
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"orderId":"s1-p1","transactionId":"tx1","status":"PAID"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, n.Status)

	n, err = ParseNotification([]byte(`{"orderId":"s1-p1","status":"declined"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, "declined", n.Reason)

	_, err = ParseNotification([]byte(`{"orderId":"s1-p1","status":"pending"}`))
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = ParseNotification([]byte(`{"status":"paid"}`))
	assert.Error(t, err)

	_, err = ParseNotification([]byte(`not json`))
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable("insufficient_funds"))
	assert.True(t, Retryable(model.ReasonTimeout))
	assert.False(t, Retryable("FRAUD_BLOCK"))
	assert.False(t, Retryable("stolen_card"))
}

func TestHTTPProvider_CreateCheckout(t *testing.T) {
	var got checkoutRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkouts", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "s1-p1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"transactionId":"tx9","paymentUrl":"https://pay/tx9"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key")
	co, err := p.CreateCheckout(context.Background(), Request{AttemptID: "s1-p1", Amount: 30000, Currency: "KRW", Method: model.PaymentMobileQR})
	require.NoError(t, err)
	assert.Equal(t, Checkout{TransactionID: "tx9", PaymentURL: "https://pay/tx9"}, co)
	assert.EqualValues(t, 30000, got.Amount)
	assert.Equal(t, "s1-p1", got.OrderID)
}

func TestHTTPProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/terminal-intents" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"terminal offline"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	p := NewHTTPProvider(srv.URL, "key")

	_, err := p.ArmTerminal(context.Background(), Request{AttemptID: "s1-p1"})
	var ge *GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, http.StatusBadGateway, ge.Status)
	assert.Equal(t, "terminal offline", ge.Message)

	_, err = p.CreateCheckout(context.Background(), Request{AttemptID: "s1-p1"})
	assert.ErrorContains(t, err, "without transactionId")
}

func TestSandbox(t *testing.T) {
	s := Sandbox{BaseURL: "http://localhost:8080"}
	co, err := s.CreateCheckout(context.Background(), Request{AttemptID: "s1-p1", Amount: 5000, Currency: "KRW"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(co.TransactionID, "sbx-"))
	assert.Contains(t, co.PaymentURL, "/sandbox/pay/s1-p1")
}
