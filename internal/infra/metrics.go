package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	pollsTotal      atomic.Uint64
	changeEvents    atomic.Uint64
	ordersSucceeded atomic.Uint64
	ordersFailed    atomic.Uint64
	queryFailures   atomic.Uint64
	suspectedBans   atomic.Uint64

	// Gauges
	activeTargets    atomic.Int32
	intervalMillis   atomic.Int64
	lastPollUnixMs   atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordPoll records one completed poll cycle.
func (m *Metrics) RecordPoll() {
	m.pollsTotal.Add(1)
	m.lastPollUnixMs.Store(time.Now().UnixMilli())
}

// RecordChangeEvent records an emitted change event.
func (m *Metrics) RecordChangeEvent() {
	m.changeEvents.Add(1)
}

// RecordOrderOutcome records a terminal order attempt.
func (m *Metrics) RecordOrderOutcome(success bool) {
	if success {
		m.ordersSucceeded.Add(1)
	} else {
		m.ordersFailed.Add(1)
	}
}

// RecordQueryFailure records a failed poll cycle.
func (m *Metrics) RecordQueryFailure() {
	m.queryFailures.Add(1)
}

// RecordSuspectedBan records a suspected-ban halt.
func (m *Metrics) RecordSuspectedBan() {
	m.suspectedBans.Add(1)
}

// SetActiveTargets sets the current number of live target loops.
func (m *Metrics) SetActiveTargets(count int32) {
	m.activeTargets.Store(count)
}

// DecrementActiveTargets decrements the live target gauge by 1.
func (m *Metrics) DecrementActiveTargets() {
	m.activeTargets.Add(-1)
}

// SetCurrentInterval mirrors the risk controller's pacing interval.
func (m *Metrics) SetCurrentInterval(d time.Duration) {
	m.intervalMillis.Store(d.Milliseconds())
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	PollsTotal      uint64    `json:"polls_total"`
	ChangeEvents    uint64    `json:"change_events"`
	OrdersSucceeded uint64    `json:"orders_succeeded"`
	OrdersFailed    uint64    `json:"orders_failed"`
	QueryFailures   uint64    `json:"query_failures"`
	SuspectedBans   uint64    `json:"suspected_bans"`
	ActiveTargets   int32     `json:"active_targets"`
	IntervalMillis  int64     `json:"interval_millis"`
	LastPoll        time.Time `json:"last_poll"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var lastPoll time.Time
	if ms := m.lastPollUnixMs.Load(); ms > 0 {
		lastPoll = time.UnixMilli(ms)
	}
	return MetricsSnapshot{
		PollsTotal:      m.pollsTotal.Load(),
		ChangeEvents:    m.changeEvents.Load(),
		OrdersSucceeded: m.ordersSucceeded.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		QueryFailures:   m.queryFailures.Load(),
		SuspectedBans:   m.suspectedBans.Load(),
		ActiveTargets:   m.activeTargets.Load(),
		IntervalMillis:  m.intervalMillis.Load(),
		LastPoll:        lastPoll,
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.pollsTotal.Store(0)
	m.changeEvents.Store(0)
	m.ordersSucceeded.Store(0)
	m.ordersFailed.Store(0)
	m.queryFailures.Store(0)
	m.suspectedBans.Store(0)
	m.activeTargets.Store(0)
	m.intervalMillis.Store(0)
	m.lastPollUnixMs.Store(0)
}
