package engine

import "github.com/iliyamo/kiosk-session-server/internal/model"

// EventKind names an inbound event.  Client-originated kinds match the
// wire event names; internal kinds are produced by the orchestrators.
type EventKind string

const (
	EvPersonDetected           EventKind = "person_detected"
	EvMotionCompleted          EventKind = "motion_completed"
	EvAnimalSelected           EventKind = "animal_selected"
	EvUserInputSubmitted       EventKind = "user_input_submitted"
	EvDurationSelected         EventKind = "duration_selected"
	EvPaymentMethodSelected    EventKind = "payment_method_selected"
	EvPaymentQRReady           EventKind = "payment_qr_ready"
	EvPaymentCompleted         EventKind = "payment_completed"
	EvPaymentFailed            EventKind = "payment_failed"
	EvVideoTemplateSelected    EventKind = "video_template_selected"
	EvVideoGenerationProgress  EventKind = "video_generation_progress"
	EvVideoGenerationCompleted EventKind = "video_generation_completed"
	EvVideoGenerationFailed    EventKind = "video_generation_failed"
	EvTicketIssued             EventKind = "ticket_issued"
	EvTicketQRDownloaded       EventKind = "ticket_qr_downloaded"
	EvSessionCancelled         EventKind = "session_cancelled"
)

// Event is the closed set of inputs the engine accepts.  Only types in
// this file implement it.
type Event interface {
	Kind() EventKind
	event()
}

type PersonDetected struct {
	Confidence float64 `json:"confidence"`
}

type MotionCompleted struct{}

type AnimalSelected struct {
	AnimalID string `json:"animalId"`
}

type UserInputSubmitted struct {
	UserName    string `json:"userName"`
	UserMessage string `json:"userMessage"`
}

type DurationSelected struct {
	Duration model.DurationTier `json:"duration"`
}

type PaymentMethodSelected struct {
	Method model.PaymentMethod `json:"method"`
}

// PaymentQRReady records the QR payload generated for a mobile attempt.
type PaymentQRReady struct {
	AttemptID     string
	TransactionID string
	QRCode        string
	PaymentURL    string
}

// PaymentCompleted is the normalised gateway confirmation.
type PaymentCompleted struct {
	AttemptID     string `json:"-"`
	TransactionID string `json:"transactionId"`
}

// PaymentFailed is the normalised gateway failure.  Timeouts arrive here
// with Reason "timeout" and Retryable set.
type PaymentFailed struct {
	AttemptID     string
	TransactionID string
	Reason        string
	Retryable     bool
}

type VideoTemplateSelected struct {
	TemplateID string `json:"templateId"`
}

type VideoGenerationProgress struct {
	JobID    string
	Progress int
}

type VideoGenerationCompleted struct {
	JobID        string
	VideoURL     string
	ThumbnailURL string
}

// VideoGenerationFailed reports a render failure.  Retry is set by the
// coordinator when the failure is retryable and attempts remain; the
// engine then replaces the job with a fresh one.
type VideoGenerationFailed struct {
	JobID     string
	Message   string
	Retryable bool
	Retry     bool
}

// TicketIssued stores the ticket produced on final_preview entry.
type TicketIssued struct {
	Ticket model.Ticket
}

type TicketQRDownloaded struct{}

type SessionCancelled struct {
	Reason string `json:"reason"`
}

func (PersonDetected) Kind() EventKind           { return EvPersonDetected }
func (MotionCompleted) Kind() EventKind          { return EvMotionCompleted }
func (AnimalSelected) Kind() EventKind           { return EvAnimalSelected }
func (UserInputSubmitted) Kind() EventKind       { return EvUserInputSubmitted }
func (DurationSelected) Kind() EventKind         { return EvDurationSelected }
func (PaymentMethodSelected) Kind() EventKind    { return EvPaymentMethodSelected }
func (PaymentQRReady) Kind() EventKind           { return EvPaymentQRReady }
func (PaymentCompleted) Kind() EventKind         { return EvPaymentCompleted }
func (PaymentFailed) Kind() EventKind            { return EvPaymentFailed }
func (VideoTemplateSelected) Kind() EventKind    { return EvVideoTemplateSelected }
func (VideoGenerationProgress) Kind() EventKind  { return EvVideoGenerationProgress }
func (VideoGenerationCompleted) Kind() EventKind { return EvVideoGenerationCompleted }
func (VideoGenerationFailed) Kind() EventKind    { return EvVideoGenerationFailed }
func (TicketIssued) Kind() EventKind             { return EvTicketIssued }
func (TicketQRDownloaded) Kind() EventKind       { return EvTicketQRDownloaded }
func (SessionCancelled) Kind() EventKind         { return EvSessionCancelled }

func (PersonDetected) event()           {}
func (MotionCompleted) event()          {}
func (AnimalSelected) event()           {}
func (UserInputSubmitted) event()       {}
func (DurationSelected) event()         {}
func (PaymentMethodSelected) event()    {}
func (PaymentQRReady) event()           {}
func (PaymentCompleted) event()         {}
func (PaymentFailed) event()            {}
func (VideoTemplateSelected) event()    {}
func (VideoGenerationProgress) event()  {}
func (VideoGenerationCompleted) event() {}
func (VideoGenerationFailed) event()    {}
func (TicketIssued) event()             {}
func (TicketQRDownloaded) event()       {}
func (SessionCancelled) event()         {}
