package service

import (
	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/gateway"
	"github.com/iliyamo/kiosk-session-server/internal/model"
)

type transitionPayload struct {
	model.Payload
	CancelReason string `json:"cancelReason,omitempty"`
}

type qrData struct {
	QRCode     string `json:"qrCode"`
	PaymentURL string `json:"paymentUrl"`
}

type paymentStatusData struct {
	Status        model.PaymentStatus   `json:"status"`
	TransactionID string                `json:"transactionId,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Retryable     *bool                 `json:"retryable,omitempty"`
	Options       []model.PaymentMethod `json:"options,omitempty"`
}

type progressData struct {
	Progress int `json:"progress"`
}

type videoDoneData struct {
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

type ticketData struct {
	TicketID     string `json:"ticketId"`
	TicketPDFURL string `json:"ticketPdfUrl"`
	QRCode       string `json:"qrCode"`
}

type completedData struct {
	SessionID string        `json:"sessionId"`
	Payload   model.Payload `json:"payload"`
	Ticket    *model.Ticket `json:"ticket,omitempty"`
}

// frames returns the server events announcing res, in send order: what the
// event itself produced, then the state change, then completion.
func frames(res engine.Result) []gateway.Message {
	var out []gateway.Message
	s := res.Session

	switch ev := res.Event.(type) {
	case engine.PaymentQRReady:
		out = append(out, qrFrame(s.Payment))
	case engine.PaymentCompleted:
		out = append(out, gateway.Message{Event: gateway.OutPaymentStatusUpdated, Data: paymentStatusData{
			Status:        model.PaymentCompleted,
			TransactionID: s.Payment.TransactionID,
		}})
	case engine.PaymentFailed:
		retryable := ev.Retryable
		data := paymentStatusData{
			Status:        model.PaymentFailed,
			TransactionID: s.Payment.TransactionID,
			Reason:        ev.Reason,
			Retryable:     &retryable,
		}
		if retryable {
			data.Options = model.PaymentMethods
		}
		out = append(out,
			gateway.Message{Event: gateway.OutPaymentStatusUpdated, Data: data},
			gateway.ErrorMessage(&engine.PaymentFailedError{Reason: ev.Reason, Retryable: retryable}),
		)
	case engine.VideoGenerationProgress:
		out = append(out, progressFrame(s.Job.Progress))
	case engine.VideoGenerationCompleted:
		out = append(out, gateway.Message{Event: gateway.OutVideoGenerationDone, Data: videoDoneData{
			VideoURL:     s.Payload.VideoURL,
			ThumbnailURL: s.Payload.ThumbnailURL,
		}})
	case engine.VideoGenerationFailed:
		out = append(out, gateway.ErrorMessage(&engine.GenerationFailedError{Message: ev.Message, Retryable: ev.Retry}))
		if ev.Retry {
			out = append(out, progressFrame(0))
		}
	case engine.TicketIssued:
		out = append(out, ticketFrame(s.Ticket))
	}

	if res.Changed() {
		out = append(out, transitionFrame(s))
		if res.To == model.StateCompleted {
			out = append(out, gateway.Message{Event: gateway.OutSessionCompleted, Data: completedData{
				SessionID: s.ID,
				Payload:   s.Payload,
				Ticket:    s.Ticket,
			}})
		}
	}
	return out
}

// replay rebuilds what a reconnecting kiosk needs to redraw s.
func replay(s model.Session) []gateway.Message {
	out := []gateway.Message{
		{Event: gateway.OutSessionCreated, Data: gateway.SessionCreatedData{SessionID: s.ID, State: s.State, Resumed: true}},
		transitionFrame(s),
	}
	switch s.State {
	case model.StateMobilePayment:
		if s.Payment != nil && s.Payment.Status == model.PaymentPending && s.Payment.QRCode != "" {
			out = append(out, qrFrame(s.Payment))
		}
	case model.StateVideoGeneration:
		if s.Job != nil {
			out = append(out, progressFrame(s.Job.Progress))
		}
	case model.StateFinalPreview:
		if s.Ticket != nil {
			out = append(out, ticketFrame(s.Ticket))
		}
	}
	return out
}

func transitionFrame(s model.Session) gateway.Message {
	return gateway.Message{Event: gateway.OutStateTransition, Data: gateway.TransitionData{
		NewState: s.State,
		Data:     transitionPayload{Payload: s.Payload, CancelReason: s.CancelReason},
	}}
}

func qrFrame(p *model.PaymentAttempt) gateway.Message {
	return gateway.Message{Event: gateway.OutPaymentQRGenerated, Data: qrData{QRCode: p.QRCode, PaymentURL: p.PaymentURL}}
}

func progressFrame(p int) gateway.Message {
	return gateway.Message{Event: gateway.OutVideoGenerationProgress, Data: progressData{Progress: p}}
}

func ticketFrame(t *model.Ticket) gateway.Message {
	return gateway.Message{Event: gateway.OutTicketGenerated, Data: ticketData{
		TicketID:     t.TicketID,
		TicketPDFURL: t.PDFURL,
		QRCode:       t.QRCode,
	}}
}
