package model

import "time"

// State is one value of the closed kiosk session state set.  The string
// form is what travels on the wire in state_transition events.
type State string

const (
	StateInitial                State = "initial"
	StateMotionDetection        State = "motion_detection"
	StateAnimalSelection        State = "animal_selection"
	StateUserInput              State = "user_input"
	StateDurationSelection      State = "duration_selection"
	StatePaymentMethod          State = "payment_method"
	StateMobilePayment          State = "mobile_payment"
	StateCardPayment            State = "card_payment"
	StateVideoTemplateSelection State = "video_template_selection"
	StateVideoGeneration        State = "video_generation"
	StateFinalPreview           State = "final_preview"
	StateCompleted              State = "completed"
	StateCancelled              State = "cancelled"
)

// AllStates lists every state in flow order, terminal states last.
var AllStates = []State{
	StateInitial,
	StateMotionDetection,
	StateAnimalSelection,
	StateUserInput,
	StateDurationSelection,
	StatePaymentMethod,
	StateMobilePayment,
	StateCardPayment,
	StateVideoTemplateSelection,
	StateVideoGeneration,
	StateFinalPreview,
	StateCompleted,
	StateCancelled,
}

// Terminal reports whether no further transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Valid reports whether s belongs to the state set.
func (s State) Valid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// Cancellation reasons recorded on cancelled sessions.
const (
	ReasonUser            = "user"
	ReasonOperator        = "operator"
	ReasonTimeout         = "timeout"
	ReasonConnectionLost  = "connection_lost"
	ReasonPaymentDeclined = "payment_declined"
	ReasonShutdown        = "shutdown"
)

// Payload accumulates everything the visitor provides and everything the
// collaborators produce during a session.  Fields are filled by accepted
// transitions only.
//
// Fields:
//  Confidence    – presence detector confidence from person_detected.
//  AnimalID      – selected avatar.
//  UserName      – author name typed by the visitor.
//  UserMessage   – wish message typed by the visitor.
//  Duration      – purchased display tier.
//  PaymentMethod – method of the attempt that completed (or the latest one).
//  TransactionID – gateway transaction of the completed payment.
//  TemplateID    – chosen video template.
//  VideoURL      – playable URL of the rendered video.
//  ThumbnailURL  – preview image of the rendered video.
//  TicketID      – issued ticket identifier.
//  TicketQRCode  – scannable ticket QR payload.
//  TicketPDFURL  – retrievable ticket document.
type Payload struct {
	Confidence    float64       `json:"confidence,omitempty"`
	AnimalID      string        `json:"animalId,omitempty"`
	UserName      string        `json:"userName,omitempty"`
	UserMessage   string        `json:"userMessage,omitempty"`
	Duration      DurationTier  `json:"duration,omitempty"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
	TemplateID    string        `json:"templateId,omitempty"`
	VideoURL      string        `json:"videoUrl,omitempty"`
	ThumbnailURL  string        `json:"thumbnailUrl,omitempty"`
	TicketID      string        `json:"ticketId,omitempty"`
	TicketQRCode  string        `json:"ticketQrCode,omitempty"`
	TicketPDFURL  string        `json:"ticketPdfUrl,omitempty"`
}

// Session is the aggregate root of one visitor interaction on one kiosk.
// It exclusively owns its payment attempts, generation job and ticket.
//
// Fields:
//  ID               – opaque identifier assigned at creation, immutable.
//  KioskID          – kiosk the session is bound to.
//  State            – current state; changed only by accepted events.
//  Payload          – accumulated visitor and collaborator data.
//  Catalog          – animal ids available when the session started; empty disables the check.
//  Payment          – active payment attempt, nil before payment_method_selected.
//  PaymentAttempts  – number of attempts started so far, used to derive attempt ids.
//  Job              – active generation job, nil before video_template_selected.
//  JobAttempts      – number of render jobs submitted so far.
//  Ticket           – issued ticket, nil until final_preview has issued one.
//  CancelReason     – reason recorded when State is cancelled.
//  CreatedAt        – creation timestamp.
//  StateEnteredAt   – when State was entered; drives per-state dwell limits.
//  LastTransitionAt – time of the last accepted event; drives the idle timeout.
type Session struct {
	ID               string          `json:"sessionId"`
	KioskID          string          `json:"kioskId"`
	State            State           `json:"state"`
	Payload          Payload         `json:"payload"`
	Catalog          []string        `json:"-"`
	Payment          *PaymentAttempt `json:"payment,omitempty"`
	PaymentAttempts  int             `json:"-"`
	Job              *GenerationJob  `json:"job,omitempty"`
	JobAttempts      int             `json:"-"`
	Ticket           *Ticket         `json:"ticket,omitempty"`
	CancelReason     string          `json:"cancelReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	StateEnteredAt   time.Time       `json:"stateEnteredAt"`
	LastTransitionAt time.Time       `json:"lastTransitionAt"`
}

// Clone returns a deep copy so snapshots handed out of the store can not
// alias store-owned memory.
func (s Session) Clone() Session {
	out := s
	if s.Catalog != nil {
		out.Catalog = append([]string(nil), s.Catalog...)
	}
	if s.Payment != nil {
		p := *s.Payment
		out.Payment = &p
	}
	if s.Job != nil {
		j := *s.Job
		out.Job = &j
	}
	if s.Ticket != nil {
		t := *s.Ticket
		out.Ticket = &t
	}
	return out
}

// HasAnimal reports whether id is selectable in this session.
func (s Session) HasAnimal(id string) bool {
	if len(s.Catalog) == 0 {
		return true
	}
	for _, a := range s.Catalog {
		if a == id {
			return true
		}
	}
	return false
}
