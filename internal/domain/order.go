package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order attempt states. IDLE is implicit (no live attempt holds the
// fingerprint); SUCCEEDED and FAILED are terminal.
const (
	StateValidating     = "VALIDATING"
	StateSubmitting     = "SUBMITTING"
	StateCaptchaPending = "CAPTCHA_PENDING"
	StateConfirming     = "CONFIRMING"
	StateSucceeded      = "SUCCEEDED"
	StateFailed         = "FAILED"
)

// FailureKind is the closed set of terminal failure classifications.
type FailureKind string

const (
	FailNone            FailureKind = ""
	FailQueryFailed     FailureKind = "QUERY_FAILED"
	FailTokenExpired    FailureKind = "TOKEN_EXPIRED"
	FailNoPassenger     FailureKind = "NO_PASSENGER"
	FailSeatUnavailable FailureKind = "SEAT_UNAVAILABLE"
	FailSubmitFailed    FailureKind = "SUBMIT_FAILED"
	FailConfirmFailed   FailureKind = "CONFIRM_FAILED"
	FailOrderFailed     FailureKind = "ORDER_FAILED"
	FailCaptchaFailed   FailureKind = "CAPTCHA_FAILED"
	FailQRCodeExpired   FailureKind = "QRCODE_EXPIRED"
	FailSuspectedBan    FailureKind = "SUSPECTED_BAN"
)

// OrderResult is the terminal outcome of one order attempt.
// Produced exactly once per attempt.
type OrderResult struct {
	Fingerprint Fingerprint
	Success     bool
	OrderNo     string
	Price       decimal.Decimal
	FailureKind FailureKind
	Message     string
	Attempts    int // submit calls actually made
	FinishedAt  time.Time
}

// SubmitRequest carries the parameters of the upstream submit endpoint.
type SubmitRequest struct {
	SecretStr   string
	TrainDate   string
	FromStation string
	ToStation   string
}

// SubmitReply holds the submit response: either a captcha challenge is
// required, or the keys needed for confirmation are present.
type SubmitReply struct {
	NeedCaptcha      bool
	KeyCheckIsChange string
	LeftTicketStr    string
	TrainLocation    string
}

// ConfirmRequest carries the parameters of the upstream confirm endpoint.
type ConfirmRequest struct {
	SeatClass        string // domain seat class name; the gateway maps it to the upstream code
	Passengers       []Passenger
	KeyCheckIsChange string
	LeftTicketStr    string
	TrainLocation    string
	CaptchaToken     string
}

// ConfirmReply is the successful confirm response.
type ConfirmReply struct {
	OrderNo string
	Price   decimal.Decimal
}
