// Package scheduler runs one monitoring loop per active target, feeding
// snapshots to the change detector and ticket events to the order
// orchestrator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rail_sniper/internal/domain"
	"rail_sniper/internal/infra"
	"rail_sniper/internal/risk"
)

// Poller produces normalized snapshots for a target.
type Poller interface {
	Poll(ctx context.Context, target *domain.MonitorTarget) ([]*domain.SeatSnapshot, error)
}

// Detector turns snapshots into change events.
type Detector interface {
	Detect(snaps []*domain.SeatSnapshot, target *domain.MonitorTarget) []domain.ChangeEvent
}

// Dispatcher runs an order attempt for a ticket event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.ChangeEvent, target *domain.MonitorTarget) (*domain.OrderResult, bool)
}

// History is the append-only persistence sink for events and outcomes.
type History interface {
	RecordChange(ev domain.ChangeEvent) error
	RecordResult(res domain.OrderResult) error
}

// Scheduler drives the per-target loops over one shared risk controller.
type Scheduler struct {
	poller   Poller
	detector Detector
	orders   Dispatcher
	notifier domain.Notifier
	history  History
	risk     *risk.Controller
	metrics  *infra.Metrics

	now    func() time.Time
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New wires a scheduler. history and notifier may be nil-free no-ops from
// the caller's perspective; they are always invoked fire-and-forget.
func New(p Poller, d Detector, o Dispatcher, n domain.Notifier, h History, rc *risk.Controller, m *infra.Metrics) *Scheduler {
	return &Scheduler{
		poller:   p,
		detector: d,
		orders:   o,
		notifier: n,
		history:  h,
		risk:     rc,
		metrics:  m,
		now:      time.Now,
		logger:   slog.Default().With("module", "scheduler"),
	}
}

// Run starts one loop per target and blocks until all loops have finished,
// either by stop signal, target expiry, success, or suspected ban.
func (s *Scheduler) Run(ctx context.Context, targets []*domain.MonitorTarget) {
	live := make([]*domain.MonitorTarget, 0, len(targets))
	for _, t := range targets {
		if t.Expired(s.now()) {
			s.logger.Info("skipping expired target",
				slog.String("date", t.Date),
				slog.String("from", t.FromCode),
				slog.String("to", t.ToCode),
			)
			continue
		}
		live = append(live, t)
	}

	s.metrics.SetActiveTargets(int32(len(live)))
	for _, t := range live {
		s.wg.Add(1)
		go func(target *domain.MonitorTarget) {
			defer s.wg.Done()
			defer s.metrics.DecrementActiveTargets()
			s.runTarget(ctx, target)
		}(t)
	}
	s.wg.Wait()
}

func (s *Scheduler) runTarget(ctx context.Context, target *domain.MonitorTarget) {
	logger := s.logger.With(
		slog.String("date", target.Date),
		slog.String("from", target.FromCode),
		slog.String("to", target.ToCode),
	)
	logger.Info("target loop started", slog.Int("seat_classes", len(target.SeatClasses)))

	for {
		if ctx.Err() != nil {
			logger.Info("target loop stopped")
			return
		}
		if target.Expired(s.now()) {
			logger.Info("target date passed, retiring")
			return
		}

		snaps, err := s.poller.Poll(ctx, target)
		if err != nil {
			if s.handlePollError(ctx, logger, target, err) {
				return
			}
			continue
		}

		s.metrics.RecordPoll()
		s.metrics.SetCurrentInterval(s.risk.Interval())

		for _, ev := range s.detector.Detect(snaps, target) {
			s.metrics.RecordChangeEvent()
			s.recordChange(logger, ev)

			if !ev.HasTicket {
				continue
			}
			result, ok := s.orders.Dispatch(ctx, ev, target)
			if !ok {
				continue
			}

			s.metrics.RecordOrderOutcome(result.Success)
			s.recordResult(logger, result)
			s.notifyResult(result)

			if result.Success {
				logger.Info("target fulfilled, retiring",
					slog.String("order_no", result.OrderNo))
				return
			}
			if result.FailureKind == domain.FailTokenExpired ||
				result.FailureKind == domain.FailNoPassenger ||
				result.FailureKind == domain.FailSuspectedBan {
				// The account itself is unusable; keeping this target hot
				// cannot succeed.
				logger.Error("fatal account condition, halting target",
					slog.String("kind", string(result.FailureKind)))
				return
			}
		}
	}
}

// handlePollError reports whether the target loop must halt.
func (s *Scheduler) handlePollError(ctx context.Context, logger *slog.Logger, target *domain.MonitorTarget, err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, domain.ErrSuspectedBan), errors.Is(err, domain.ErrDailyLimitReached):
		s.metrics.RecordSuspectedBan()
		logger.Error("halting target", slog.Any("error", err))
		if s.notifier != nil {
			s.notifier.Notify("⚠️ monitoring halted",
				fmt.Sprintf("%s %s→%s: %v", target.Date, target.FromCode, target.ToCode, err))
		}
		return true
	default:
		// One failed cycle is contained; the next poll picks up after the
		// backed-off interval.
		s.metrics.RecordQueryFailure()
		logger.Warn("poll cycle failed", slog.Any("error", err))
		return false
	}
}

func (s *Scheduler) recordChange(logger *slog.Logger, ev domain.ChangeEvent) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordChange(ev); err != nil {
		logger.Warn("failed to persist change event", slog.Any("error", err))
	}
}

func (s *Scheduler) recordResult(logger *slog.Logger, res *domain.OrderResult) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordResult(*res); err != nil {
		logger.Warn("failed to persist order result", slog.Any("error", err))
	}
}

func (s *Scheduler) notifyResult(res *domain.OrderResult) {
	if s.notifier == nil {
		return
	}
	fp := res.Fingerprint
	if res.Success {
		s.notifier.Notify("🎫 order placed",
			fmt.Sprintf("%s %s %s: order %s, price %s, pay within the payment window",
				fp.TrainCode, fp.Date, fp.SeatClass, res.OrderNo, res.Price.String()))
		return
	}
	s.notifier.Notify("order attempt failed",
		fmt.Sprintf("%s %s %s: %s (%s)",
			fp.TrainCode, fp.Date, fp.SeatClass, res.FailureKind, res.Message))
}
