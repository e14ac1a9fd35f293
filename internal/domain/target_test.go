package domain

import (
	"errors"
	"testing"
	"time"
)

func TestWantsTrain(t *testing.T) {
	explicit := &MonitorTarget{TrainCodes: []string{"G1", "K349"}}
	if !explicit.WantsTrain("G1") || explicit.WantsTrain("D301") {
		t.Error("explicit train list not honored")
	}

	all := &MonitorTarget{}
	if !all.WantsTrain("D301") {
		t.Error("empty train list must match every train")
	}
}

func TestExpired(t *testing.T) {
	target := &MonitorTarget{Date: "2026-10-01"}

	travelDay := time.Date(2026, 10, 1, 23, 0, 0, 0, time.UTC)
	if target.Expired(travelDay) {
		t.Error("target expired during its travel day")
	}

	dayAfter := time.Date(2026, 10, 2, 1, 0, 0, 0, time.UTC)
	if !target.Expired(dayAfter) {
		t.Error("target still live after its travel day")
	}

	malformed := &MonitorTarget{Date: "not-a-date"}
	if malformed.Expired(dayAfter) {
		t.Error("unparseable date must not expire the target")
	}
}

func TestFailureKindOf(t *testing.T) {
	tagged := &OrderError{Kind: FailSeatUnavailable, Message: "sold out"}
	if got := FailureKindOf(tagged, FailSubmitFailed); got != FailSeatUnavailable {
		t.Errorf("FailureKindOf(tagged) = %s, want SEAT_UNAVAILABLE", got)
	}

	plain := errors.New("boom")
	if got := FailureKindOf(plain, FailSubmitFailed); got != FailSubmitFailed {
		t.Errorf("FailureKindOf(plain) = %s, want the fallback", got)
	}
}

func TestRetriableClassification(t *testing.T) {
	if !IsRetriable(&UpstreamError{Op: "query"}) {
		t.Error("upstream errors are always retriable")
	}
	if IsRetriable(&OrderError{Kind: FailOrderFailed, Retriable: false}) {
		t.Error("terminal order errors must not be retriable")
	}
	if IsRetriable(errors.New("plain")) {
		t.Error("untagged errors must not be retriable")
	}
}

func TestIsRateLimitedUnwraps(t *testing.T) {
	wrapped := errors.Join(ErrQueryFailed, &UpstreamError{Op: "query", Status: 429, RateLimited: true})
	if !IsRateLimited(wrapped) {
		t.Error("rate-limited flag lost through wrapping")
	}
	if IsRateLimited(&UpstreamError{Op: "query", Status: 500}) {
		t.Error("plain upstream failure misclassified as rate limited")
	}
}
