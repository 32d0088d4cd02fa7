// Package engine holds the kiosk session state machine.  Apply is a pure
// function: it receives a session snapshot and an event and returns the
// next snapshot plus the side effects the caller has to perform.  It does
// no I/O and keeps no state of its own.
package engine

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// Input limits enforced on user_input_submitted.
const (
	MaxUserNameRunes    = 20
	MaxUserMessageRunes = 100
)

// Result is the outcome of an accepted event.
type Result struct {
	Event   Event
	From    model.State
	To      model.State
	Session model.Session
	Effects []Effect
}

// Changed reports whether the event moved the session to another state.
func (r Result) Changed() bool { return r.From != r.To }

// Apply validates ev against s and returns the resulting session.  A
// rejected event returns an error and leaves s untouched; the caller
// keeps using its own copy.
func Apply(s model.Session, ev Event, now time.Time) (Result, error) {
	if ev == nil {
		return Result{}, ErrUnknownEvent
	}
	if s.State.Terminal() {
		return Result{}, ErrSessionTerminal
	}

	next := s.Clone()
	var effects []Effect

	switch e := ev.(type) {
	case PersonDetected:
		if s.State != model.StateInitial {
			return Result{}, mismatch(s, ev)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return Result{}, &InvalidPayloadError{Field: "confidence", Reason: "must be between 0 and 1"}
		}
		next.Payload.Confidence = e.Confidence
		next.State = model.StateMotionDetection

	case MotionCompleted:
		if s.State != model.StateMotionDetection {
			return Result{}, mismatch(s, ev)
		}
		next.State = model.StateAnimalSelection

	case AnimalSelected:
		if s.State != model.StateAnimalSelection {
			return Result{}, mismatch(s, ev)
		}
		id := strings.TrimSpace(e.AnimalID)
		if id == "" {
			return Result{}, &InvalidPayloadError{Field: "animalId", Reason: "required"}
		}
		if !s.HasAnimal(id) {
			return Result{}, &InvalidPayloadError{Field: "animalId", Reason: "not in catalog"}
		}
		next.Payload.AnimalID = id
		next.State = model.StateUserInput

	case UserInputSubmitted:
		if s.State != model.StateUserInput {
			return Result{}, mismatch(s, ev)
		}
		name := strings.TrimSpace(e.UserName)
		msg := strings.TrimSpace(e.UserMessage)
		if err := checkText("userName", name, MaxUserNameRunes); err != nil {
			return Result{}, err
		}
		if err := checkText("userMessage", msg, MaxUserMessageRunes); err != nil {
			return Result{}, err
		}
		next.Payload.UserName = name
		next.Payload.UserMessage = msg
		next.State = model.StateDurationSelection

	case DurationSelected:
		if s.State != model.StateDurationSelection {
			return Result{}, mismatch(s, ev)
		}
		if !e.Duration.Valid() {
			return Result{}, &InvalidPayloadError{Field: "duration", Reason: fmt.Sprintf("unsupported tier %q", e.Duration)}
		}
		next.Payload.Duration = e.Duration
		next.State = model.StatePaymentMethod

	case PaymentMethodSelected:
		if !canSelectPayment(s) {
			return Result{}, mismatch(s, ev)
		}
		if !e.Method.Valid() {
			return Result{}, &InvalidPayloadError{Field: "method", Reason: fmt.Sprintf("unsupported method %q", e.Method)}
		}
		next.PaymentAttempts = s.PaymentAttempts + 1
		next.Payment = &model.PaymentAttempt{
			ID:        fmt.Sprintf("%s-p%d", s.ID, next.PaymentAttempts),
			Method:    e.Method,
			Status:    model.PaymentPending,
			StartedAt: now,
		}
		next.Payload.PaymentMethod = e.Method
		if e.Method == model.PaymentMobileQR {
			next.State = model.StateMobilePayment
			effects = append(effects, StartMobilePayment{AttemptID: next.Payment.ID, Duration: s.Payload.Duration})
		} else {
			next.State = model.StateCardPayment
			effects = append(effects, StartCardPayment{AttemptID: next.Payment.ID, Duration: s.Payload.Duration})
		}

	case PaymentQRReady:
		if s.State != model.StateMobilePayment {
			return Result{}, mismatch(s, ev)
		}
		if err := checkAttempt(s, e.AttemptID); err != nil {
			return Result{}, err
		}
		if s.Payment.Status != model.PaymentPending {
			return Result{}, ErrStaleResult
		}
		next.Payment.TransactionID = e.TransactionID
		next.Payment.QRCode = e.QRCode
		next.Payment.PaymentURL = e.PaymentURL

	case PaymentCompleted:
		if s.State != model.StateMobilePayment && s.State != model.StateCardPayment {
			return Result{}, mismatch(s, ev)
		}
		if err := checkAttempt(s, e.AttemptID); err != nil {
			return Result{}, err
		}
		// A confirmation that races the local timeout still settles the
		// attempt as long as no newer attempt has replaced it.
		if s.Payment.Status == model.PaymentFailed && s.Payment.FailureReason != model.ReasonTimeout {
			return Result{}, ErrStaleResult
		}
		txID := e.TransactionID
		if txID == "" {
			txID = s.Payment.TransactionID
		}
		if txID == "" {
			return Result{}, &InvalidPayloadError{Field: "transactionId", Reason: "required"}
		}
		next.Payment.Status = model.PaymentCompleted
		next.Payment.TransactionID = txID
		next.Payment.FailureReason = ""
		next.Payment.CompletedAt = now
		next.Payload.TransactionID = txID
		next.Payload.PaymentMethod = s.Payment.Method
		next.State = model.StateVideoTemplateSelection

	case PaymentFailed:
		if s.State != model.StateMobilePayment && s.State != model.StateCardPayment {
			return Result{}, mismatch(s, ev)
		}
		if err := checkAttempt(s, e.AttemptID); err != nil {
			return Result{}, err
		}
		if s.Payment.Status != model.PaymentPending {
			return Result{}, ErrStaleResult
		}
		next.Payment.Status = model.PaymentFailed
		next.Payment.FailureReason = e.Reason
		if e.TransactionID != "" {
			next.Payment.TransactionID = e.TransactionID
		}
		if !e.Retryable {
			cancel(&next, model.ReasonPaymentDeclined)
			effects = append(effects, CancelInFlight{Reason: model.ReasonPaymentDeclined})
		}

	case VideoTemplateSelected:
		if s.State != model.StateVideoTemplateSelection {
			return Result{}, mismatch(s, ev)
		}
		tpl := strings.TrimSpace(e.TemplateID)
		if tpl == "" {
			return Result{}, &InvalidPayloadError{Field: "templateId", Reason: "required"}
		}
		next.Payload.TemplateID = tpl
		effects = append(effects, newJob(&next, tpl, 1))
		next.State = model.StateVideoGeneration

	case VideoGenerationProgress:
		if s.State != model.StateVideoGeneration {
			return Result{}, mismatch(s, ev)
		}
		if err := checkJob(s, e.JobID); err != nil {
			return Result{}, err
		}
		p := clamp(e.Progress, 0, 100)
		if p <= s.Job.Progress {
			return Result{}, ErrStaleResult
		}
		next.Job.Progress = p

	case VideoGenerationCompleted:
		if s.State != model.StateVideoGeneration {
			return Result{}, mismatch(s, ev)
		}
		if err := checkJob(s, e.JobID); err != nil {
			return Result{}, err
		}
		if e.VideoURL == "" {
			return Result{}, &InvalidPayloadError{Field: "videoUrl", Reason: "required"}
		}
		next.Job.Status = model.JobSucceeded
		next.Job.Progress = 100
		next.Job.ResultURL = e.VideoURL
		next.Job.ThumbnailURL = e.ThumbnailURL
		next.Payload.VideoURL = e.VideoURL
		next.Payload.ThumbnailURL = e.ThumbnailURL
		next.State = model.StateFinalPreview
		effects = append(effects, IssueTicket{})

	case VideoGenerationFailed:
		if s.State != model.StateVideoGeneration {
			return Result{}, mismatch(s, ev)
		}
		if err := checkJob(s, e.JobID); err != nil {
			return Result{}, err
		}
		if e.Retry {
			effects = append(effects, newJob(&next, s.Job.TemplateID, s.Job.Attempt+1))
			break
		}
		next.Job.Status = model.JobFailed
		next.Job.Error = e.Message

	case TicketIssued:
		if s.State != model.StateFinalPreview {
			return Result{}, mismatch(s, ev)
		}
		if s.Ticket != nil {
			return Result{}, ErrTicketAlreadyIssued
		}
		t := e.Ticket
		next.Ticket = &t
		next.Payload.TicketID = t.TicketID
		next.Payload.TicketQRCode = t.QRCode
		next.Payload.TicketPDFURL = t.PDFURL

	case TicketQRDownloaded:
		if s.State != model.StateFinalPreview {
			return Result{}, mismatch(s, ev)
		}
		if s.Ticket == nil {
			return Result{}, ErrTicketNotIssued
		}
		next.State = model.StateCompleted

	case SessionCancelled:
		reason := strings.TrimSpace(e.Reason)
		if reason == "" {
			reason = model.ReasonUser
		}
		cancel(&next, reason)
		effects = append(effects, CancelInFlight{Reason: reason})

	default:
		return Result{}, ErrUnknownEvent
	}

	next.LastTransitionAt = now
	if next.State != s.State {
		next.StateEnteredAt = now
	}
	return Result{Event: ev, From: s.State, To: next.State, Session: next, Effects: effects}, nil
}

func mismatch(s model.Session, ev Event) error {
	return &StateMismatchError{State: s.State, Event: ev.Kind()}
}

// canSelectPayment allows the first selection from payment_method and a
// re-selection from a payment state whose attempt has failed.
func canSelectPayment(s model.Session) bool {
	switch s.State {
	case model.StatePaymentMethod:
		return true
	case model.StateMobilePayment, model.StateCardPayment:
		return s.Payment != nil && s.Payment.Status == model.PaymentFailed
	}
	return false
}

// checkAttempt guards payment results against superseded attempts.  An
// empty id addresses the active attempt.
func checkAttempt(s model.Session, attemptID string) error {
	if s.Payment == nil {
		return ErrStaleResult
	}
	if attemptID != "" && attemptID != s.Payment.ID {
		return ErrStaleResult
	}
	if s.Payment.Status == model.PaymentCompleted {
		return ErrStaleResult
	}
	return nil
}

// checkJob guards render results against replaced or finished jobs.
func checkJob(s model.Session, jobID string) error {
	if s.Job == nil || s.Job.Status != model.JobRunning {
		return ErrStaleResult
	}
	if jobID != "" && jobID != s.Job.ID {
		return ErrStaleResult
	}
	return nil
}

func newJob(next *model.Session, templateID string, attempt int) SubmitGeneration {
	next.JobAttempts++
	next.Job = &model.GenerationJob{
		ID:         fmt.Sprintf("%s-g%d", next.ID, next.JobAttempts),
		TemplateID: templateID,
		Attempt:    attempt,
		Status:     model.JobRunning,
	}
	return SubmitGeneration{
		JobID:       next.Job.ID,
		Attempt:     attempt,
		TemplateID:  templateID,
		AnimalID:    next.Payload.AnimalID,
		UserName:    next.Payload.UserName,
		UserMessage: next.Payload.UserMessage,
	}
}

func cancel(next *model.Session, reason string) {
	next.State = model.StateCancelled
	next.CancelReason = reason
}

func checkText(field, v string, limit int) error {
	if v == "" {
		return &InvalidPayloadError{Field: field, Reason: "required"}
	}
	if utf8.RuneCountInString(v) > limit {
		return &InvalidPayloadError{Field: field, Reason: fmt.Sprintf("longer than %d characters", limit)}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
