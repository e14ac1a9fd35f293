package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rail_sniper/internal/domain"
	"rail_sniper/internal/infra"
	"rail_sniper/internal/risk"
)

// pollStep is one scripted poll outcome.
type pollStep struct {
	snaps []*domain.SeatSnapshot
	err   error
}

type scriptedPoller struct {
	mu    sync.Mutex
	steps []pollStep
	calls int
}

func (p *scriptedPoller) Poll(ctx context.Context, target *domain.MonitorTarget) ([]*domain.SeatSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.steps) == 0 {
		// Script exhausted, end the loop.
		return nil, context.Canceled
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step.snaps, step.err
}

func (p *scriptedPoller) polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type passthroughDetector struct {
	events []domain.ChangeEvent
}

func (d *passthroughDetector) Detect(snaps []*domain.SeatSnapshot, target *domain.MonitorTarget) []domain.ChangeEvent {
	if len(snaps) == 0 {
		return nil
	}
	return d.events
}

type scriptedDispatcher struct {
	mu      sync.Mutex
	result  *domain.OrderResult
	calls   int
}

func (o *scriptedDispatcher) Dispatch(ctx context.Context, ev domain.ChangeEvent, target *domain.MonitorTarget) (*domain.OrderResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.result == nil {
		return nil, false
	}
	return o.result, true
}

type recordingHistory struct {
	mu      sync.Mutex
	changes []domain.ChangeEvent
	results []domain.OrderResult
}

func (h *recordingHistory) RecordChange(ev domain.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, ev)
	return nil
}

func (h *recordingHistory) RecordResult(res domain.OrderResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, res)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func schedulerTarget() *domain.MonitorTarget {
	return &domain.MonitorTarget{
		Date:        "2026-10-01",
		FromCode:    "BJP",
		ToCode:      "SHH",
		TrainCodes:  []string{"G1"},
		SeatClasses: []string{domain.SeatSecond},
	}
}

func ticketEvent() domain.ChangeEvent {
	return domain.ChangeEvent{
		Fingerprint: domain.Fingerprint{TrainCode: "G1", Date: "2026-10-01", SeatClass: domain.SeatSecond},
		Previous:    0,
		Current:     3,
		HasTicket:   true,
		Snapshot:    &domain.SeatSnapshot{TrainCode: "G1", Date: "2026-10-01"},
	}
}

func newTestScheduler(p Poller, d Detector, o Dispatcher, n domain.Notifier, h History) (*Scheduler, *infra.Metrics) {
	m := &infra.Metrics{}
	s := New(p, d, o, n, h, risk.New(risk.Config{}), m)
	s.now = func() time.Time {
		return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	}
	return s, m
}

func TestExpiredTargetSkipped(t *testing.T) {
	poller := &scriptedPoller{}
	s, _ := newTestScheduler(poller, &passthroughDetector{}, &scriptedDispatcher{}, nil, nil)

	target := schedulerTarget()
	target.Date = "2026-01-01"
	s.Run(context.Background(), []*domain.MonitorTarget{target})

	if poller.polls() != 0 {
		t.Errorf("polls = %d, want 0 for an expired target", poller.polls())
	}
}

func TestSuccessfulOrderRetiresTarget(t *testing.T) {
	snaps := []*domain.SeatSnapshot{{TrainCode: "G1"}}
	poller := &scriptedPoller{steps: []pollStep{{snaps: snaps}}}
	detector := &passthroughDetector{events: []domain.ChangeEvent{ticketEvent()}}
	dispatcher := &scriptedDispatcher{result: &domain.OrderResult{
		Fingerprint: ticketEvent().Fingerprint,
		Success:     true,
		OrderNo:     "E12345",
		Price:       decimal.NewFromFloat(553.5),
	}}
	history := &recordingHistory{}
	notifier := &recordingNotifier{}
	s, metrics := newTestScheduler(poller, detector, dispatcher, notifier, history)

	s.Run(context.Background(), []*domain.MonitorTarget{schedulerTarget()})

	if dispatcher.calls != 1 {
		t.Errorf("dispatch calls = %d, want 1", dispatcher.calls)
	}
	if len(history.results) != 1 || !history.results[0].Success {
		t.Errorf("persisted results = %+v, want one success", history.results)
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "🎫 order placed" {
		t.Errorf("notifications = %v, want one order-placed", notifier.titles)
	}
	if snap := metrics.Snapshot(); snap.OrdersSucceeded != 1 {
		t.Errorf("orders succeeded = %d, want 1", snap.OrdersSucceeded)
	}
	// Retired after success, no further poll cycle ran.
	if poller.polls() != 1 {
		t.Errorf("polls = %d, want 1", poller.polls())
	}
}

func TestSuspectedBanHaltsTargetAndNotifies(t *testing.T) {
	poller := &scriptedPoller{steps: []pollStep{{err: domain.ErrSuspectedBan}}}
	notifier := &recordingNotifier{}
	s, metrics := newTestScheduler(poller, &passthroughDetector{}, &scriptedDispatcher{}, notifier, nil)

	s.Run(context.Background(), []*domain.MonitorTarget{schedulerTarget()})

	if poller.polls() != 1 {
		t.Errorf("polls = %d, want 1 before the halt", poller.polls())
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "⚠️ monitoring halted" {
		t.Errorf("notifications = %v, want one halt notice", notifier.titles)
	}
	if metrics.Snapshot().SuspectedBans != 1 {
		t.Error("suspected ban not counted")
	}
}

func TestTransientPollFailureContinues(t *testing.T) {
	snaps := []*domain.SeatSnapshot{{TrainCode: "G1"}}
	poller := &scriptedPoller{steps: []pollStep{
		{err: errors.New("connection reset")},
		{snaps: snaps},
	}}
	s, metrics := newTestScheduler(poller, &passthroughDetector{}, &scriptedDispatcher{}, nil, nil)

	s.Run(context.Background(), []*domain.MonitorTarget{schedulerTarget()})

	// Failed cycle, good cycle, then the exhausted script ends the loop.
	if poller.polls() != 3 {
		t.Errorf("polls = %d, want 3", poller.polls())
	}
	snap := metrics.Snapshot()
	if snap.QueryFailures != 1 {
		t.Errorf("query failures = %d, want 1", snap.QueryFailures)
	}
	if snap.PollsTotal != 1 {
		t.Errorf("completed polls = %d, want 1", snap.PollsTotal)
	}
}

func TestSoldOutEventRecordedButNotDispatched(t *testing.T) {
	ev := ticketEvent()
	ev.Previous = 3
	ev.Current = 0
	ev.HasTicket = false

	snaps := []*domain.SeatSnapshot{{TrainCode: "G1"}}
	poller := &scriptedPoller{steps: []pollStep{{snaps: snaps}}}
	detector := &passthroughDetector{events: []domain.ChangeEvent{ev}}
	dispatcher := &scriptedDispatcher{}
	history := &recordingHistory{}
	s, _ := newTestScheduler(poller, detector, dispatcher, nil, history)

	s.Run(context.Background(), []*domain.MonitorTarget{schedulerTarget()})

	if len(history.changes) != 1 {
		t.Errorf("persisted changes = %d, want 1", len(history.changes))
	}
	if dispatcher.calls != 0 {
		t.Errorf("dispatch calls = %d, want 0 for a sold-out event", dispatcher.calls)
	}
}

func TestFatalAccountFailureHaltsTarget(t *testing.T) {
	snaps := []*domain.SeatSnapshot{{TrainCode: "G1"}}
	poller := &scriptedPoller{steps: []pollStep{
		{snaps: snaps},
		{snaps: snaps},
	}}
	detector := &passthroughDetector{events: []domain.ChangeEvent{ticketEvent()}}
	dispatcher := &scriptedDispatcher{result: &domain.OrderResult{
		Fingerprint: ticketEvent().Fingerprint,
		FailureKind: domain.FailTokenExpired,
	}}
	s, _ := newTestScheduler(poller, detector, dispatcher, &recordingNotifier{}, nil)

	s.Run(context.Background(), []*domain.MonitorTarget{schedulerTarget()})

	if poller.polls() != 1 {
		t.Errorf("polls = %d, want the loop halted after the first dispatch", poller.polls())
	}
	if dispatcher.calls != 1 {
		t.Errorf("dispatch calls = %d, want 1", dispatcher.calls)
	}
}
