package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// UpstreamError represents a transport-level failure against the ticketing
// service. RateLimited marks responses that must slow the shared pacing
// (HTTP 403/429/503 or a known ban indicator in the message body).
type UpstreamError struct {
	Op          string // "query", "submit", "confirm", "captcha"
	Status      int    // HTTP status, 0 if the request never completed
	Message     string
	RateLimited bool
	Err         error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Op + ": " + e.Message
	}
	if e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": upstream error"
}

func (e *UpstreamError) IsRetriable() bool { return true }

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsRateLimited reports whether an error indicates the upstream is
// throttling or blocking us.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.RateLimited
	}
	return false
}

// OrderError is a business-level rejection from the ordering flow, tagged
// with the terminal classification it maps to. The orchestrator's retry
// policy is a pure function of Kind and Retriable.
type OrderError struct {
	Kind      FailureKind
	Message   string
	Retriable bool
}

func (e *OrderError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *OrderError) IsRetriable() bool { return e.Retriable }

// FailureKindOf extracts the failure kind from an error chain, falling back
// to the given default for untagged errors.
func FailureKindOf(err error, fallback FailureKind) FailureKind {
	var oe *OrderError
	if errors.As(err, &oe) && oe.Kind != FailNone {
		return oe.Kind
	}
	return fallback
}

var (
	// ErrSuspectedBan is reported by the risk controller when the failure
	// streak crosses the configured threshold. The affected target must halt.
	ErrSuspectedBan = errors.New("suspected ban")

	// ErrDailyLimitReached is reported when the daily request budget is spent.
	ErrDailyLimitReached = errors.New("daily request limit reached")

	// ErrQueryFailed is returned when a poll cycle produced no usable payload.
	ErrQueryFailed = errors.New("query failed")

	// ErrAttemptInFlight is returned when a fingerprint already holds a live
	// order attempt. The duplicate trigger is dropped, never queued.
	ErrAttemptInFlight = errors.New("order attempt already in flight")
)
