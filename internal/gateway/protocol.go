package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// Server to client event names.
const (
	OutKioskConnected          = "kiosk_connected"
	OutSessionCreated          = "session_created"
	OutStateTransition         = "state_transition"
	OutPaymentQRGenerated      = "payment_qr_generated"
	OutPaymentStatusUpdated    = "payment_status_updated"
	OutVideoGenerationProgress = "video_generation_progress"
	OutVideoGenerationDone     = "video_generation_completed"
	OutTicketGenerated         = "ticket_generated"
	OutSessionCompleted        = "session_completed"
	OutError                   = "error"
	OutKioskDisconnected       = "kiosk_disconnected"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame before encoding.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ErrorData is the payload of error frames.
type ErrorData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// ErrorMessage builds the error frame for err.
func ErrorMessage(err error) Message {
	data := ErrorData{Code: engine.Code(err), Message: err.Error()}
	var pf *engine.PaymentFailedError
	var gf *engine.GenerationFailedError
	switch {
	case errors.As(err, &pf):
		data.Retryable = &pf.Retryable
	case errors.As(err, &gf):
		data.Retryable = &gf.Retryable
	}
	return Message{Event: OutError, Data: data}
}

// clientPaymentCompleted is the emulator's shortcut for a gateway callback.
type clientPaymentCompleted struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// Decode maps a client frame to an engine event.  Only client-originated
// kinds are accepted; internal kinds such as ticket_issued are unknown
// on the wire.
func Decode(env Envelope) (engine.Event, error) {
	var (
		ev  engine.Event
		err error
	)
	switch engine.EventKind(env.Event) {
	case engine.EvPersonDetected:
		ev, err = decodeInto[engine.PersonDetected](env.Data)
	case engine.EvMotionCompleted:
		ev = engine.MotionCompleted{}
	case engine.EvAnimalSelected:
		ev, err = decodeInto[engine.AnimalSelected](env.Data)
	case engine.EvUserInputSubmitted:
		ev, err = decodeInto[engine.UserInputSubmitted](env.Data)
	case engine.EvDurationSelected:
		ev, err = decodeInto[engine.DurationSelected](env.Data)
	case engine.EvPaymentMethodSelected:
		ev, err = decodeInto[engine.PaymentMethodSelected](env.Data)
	case engine.EvPaymentCompleted:
		var p clientPaymentCompleted
		if p, err = decodeInto[clientPaymentCompleted](env.Data); err == nil {
			ev = paymentOutcome(p)
		}
	case engine.EvVideoTemplateSelected:
		ev, err = decodeInto[engine.VideoTemplateSelected](env.Data)
	case engine.EvTicketQRDownloaded:
		ev = engine.TicketQRDownloaded{}
	case engine.EvSessionCancelled:
		ev, err = decodeInto[engine.SessionCancelled](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func paymentOutcome(p clientPaymentCompleted) engine.Event {
	switch p.Status {
	case "", "completed", "success", "paid":
		return engine.PaymentCompleted{TransactionID: p.TransactionID}
	}
	return engine.PaymentFailed{TransactionID: p.TransactionID, Reason: p.Status, Retryable: true}
}

func decodeInto[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &engine.InvalidPayloadError{Field: "data", Reason: err.Error()}
	}
	return v, nil
}

// SessionCreatedData is the payload of session_created.
type SessionCreatedData struct {
	SessionID string      `json:"sessionId"`
	State     model.State `json:"state"`
	Resumed   bool        `json:"resumed,omitempty"`
}

// TransitionData is the payload of state_transition.
type TransitionData struct {
	NewState model.State `json:"newState"`
	Data     any         `json:"data"`
}
