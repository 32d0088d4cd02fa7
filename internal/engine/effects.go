package engine

import "github.com/iliyamo/kiosk-session-server/internal/model"

// Effect is a side effect requested by an accepted transition.  The engine
// only describes it; the service layer performs it.
type Effect interface {
	effect()
}

// StartMobilePayment asks the payment orchestrator for a QR payment.
type StartMobilePayment struct {
	AttemptID string
	Duration  model.DurationTier
}

// StartCardPayment arms the orchestrator to wait for the card terminal.
type StartCardPayment struct {
	AttemptID string
	Duration  model.DurationTier
}

// SubmitGeneration hands a render job to the generation service.
type SubmitGeneration struct {
	JobID       string
	Attempt     int
	TemplateID  string
	AnimalID    string
	UserName    string
	UserMessage string
}

// IssueTicket asks the ticket issuer for the session's single ticket.
type IssueTicket struct{}

// CancelInFlight aborts outstanding payment and render work.
type CancelInFlight struct {
	Reason string
}

func (StartMobilePayment) effect() {}
func (StartCardPayment) effect()   {}
func (SubmitGeneration) effect()   {}
func (IssueTicket) effect()        {}
func (CancelInFlight) effect()     {}
