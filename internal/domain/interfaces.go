package domain

import "context"

// Passenger is one bookable profile attached to the account.
type Passenger struct {
	Name   string
	IDType string // upstream document type code, "1" = national ID
	IDNo   string
	Mobile string
}

// RailGateway is the boundary to the upstream ticketing service. All calls
// carry the session credentials held by the implementation.
type RailGateway interface {
	QueryLeftTickets(ctx context.Context, date, fromCode, toCode string) ([]*SeatSnapshot, error)
	SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitReply, error)
	FetchCaptcha(ctx context.Context) ([]byte, error)
	SubmitCaptcha(ctx context.Context, token string) error
	ConfirmOrder(ctx context.Context, req ConfirmRequest) (*ConfirmReply, error)
}

// AuthProvider exposes credential state owned by the external login flow.
// Credentials themselves are an opaque blob; only freshness is visible here.
type AuthProvider interface {
	IsTokenFresh(ctx context.Context) bool
	Passengers(ctx context.Context) ([]Passenger, error)
}

// CaptchaSolver turns a challenge image into a submittable token.
type CaptchaSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// Notifier delivers outcomes to external channels. Fire-and-forget: the
// orchestrator never blocks on delivery.
type Notifier interface {
	Notify(title, body string)
}
