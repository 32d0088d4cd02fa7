package model

import "time"

// DurationTier is the purchased display-window length.
type DurationTier string

const (
	Duration1Day    DurationTier = "1_day"
	Duration30Days  DurationTier = "30_days"
	Duration6Months DurationTier = "6_months"
	Duration1Year   DurationTier = "1_year"
)

// DurationTiers lists the purchasable tiers from shortest to longest.
var DurationTiers = []DurationTier{Duration1Day, Duration30Days, Duration6Months, Duration1Year}

// Valid reports whether d is a purchasable tier.
func (d DurationTier) Valid() bool {
	switch d {
	case Duration1Day, Duration30Days, Duration6Months, Duration1Year:
		return true
	}
	return false
}

// End returns the end of a display window of tier d starting at start.
// Calendar arithmetic is used so "6 months" from March 31 lands where
// time.AddDate puts it.
func (d DurationTier) End(start time.Time) time.Time {
	switch d {
	case Duration1Day:
		return start.AddDate(0, 0, 1)
	case Duration30Days:
		return start.AddDate(0, 0, 30)
	case Duration6Months:
		return start.AddDate(0, 6, 0)
	case Duration1Year:
		return start.AddDate(1, 0, 0)
	}
	return start
}

// PaymentMethod selects between the two payment sub-flows.
type PaymentMethod string

const (
	PaymentMobileQR   PaymentMethod = "mobile_qr"
	PaymentCreditCard PaymentMethod = "credit_card"
)

// PaymentMethods is the option list re-offered after a failed attempt.
var PaymentMethods = []PaymentMethod{PaymentMobileQR, PaymentCreditCard}

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMobileQR || m == PaymentCreditCard
}

// PaymentStatus is the lifecycle of one payment attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentAttempt is one try at charging the visitor.  A new attempt
// supersedes a failed one; at most one is active per session.
//
// Fields:
//  ID            – "<sessionId>-p<n>", used as the stale-result guard key.
//  Method        – mobile_qr or credit_card.
//  Status        – pending, completed or failed.
//  TransactionID – gateway reference, known once the gateway accepted the attempt.
//  QRCode        – PNG data URL of the payment QR (mobile only).
//  PaymentURL    – URL encoded in the QR (mobile only).
//  FailureReason – gateway reason or "timeout" for failed attempts.
//  StartedAt     – when the attempt began.
//  CompletedAt   – when the gateway confirmed the payment.
type PaymentAttempt struct {
	ID            string        `json:"id"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	QRCode        string        `json:"qrCode,omitempty"`
	PaymentURL    string        `json:"paymentUrl,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	CompletedAt   time.Time     `json:"completedAt,omitempty"`
}

// JobStatus is the lifecycle of one render job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// GenerationJob is the asynchronous render of the personalised video.
//
// Fields:
//  ID           – "<sessionId>-g<n>", used as the stale-result guard key.
//  TemplateID   – template the job renders.
//  Attempt      – 1-based render attempt number.
//  Status       – running, succeeded or failed.
//  Progress     – 0..100, never decreases within a job.
//  ResultURL    – playable video URL on success.
//  ThumbnailURL – preview image on success.
//  Error        – last render failure message.
type GenerationJob struct {
	ID           string    `json:"id"`
	TemplateID   string    `json:"templateId"`
	Attempt      int       `json:"attempt"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	ResultURL    string    `json:"resultUrl,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// DisplayWindow is the period during which the purchased content is shown.
type DisplayWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Ticket is the proof of purchase.  It is created once per session and
// never changed afterwards.
type Ticket struct {
	TicketID      string        `json:"ticketId"`
	SessionID     string        `json:"sessionId"`
	KioskID       string        `json:"kioskId"`
	QRCode        string        `json:"qrCode"`
	PDFURL        string        `json:"pdfUrl"`
	Duration      DurationTier  `json:"duration"`
	DisplayWindow DisplayWindow `json:"displayWindow"`
	VideoURL      string        `json:"videoUrl,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}
