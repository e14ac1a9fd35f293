// Package order drives a reservation attempt from a "ticket became
// available" event through submit, captcha, and confirmation.
package order

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rail_sniper/internal/domain"
	"rail_sniper/internal/risk"
)

// Config bounds the retry budgets of one attempt. The submit retry budget
// is deliberately smaller than a full re-poll cycle: losing a seat to
// another buyer between detection and submission is an expected race.
type Config struct {
	MaxRetries     int           // submit/confirm attempts
	RetryDelay     time.Duration // pause between submit retries
	CaptchaRetries int           // solver attempts before giving up
}

// DefaultConfig returns the retry budgets used in production.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: 2 * time.Second, CaptchaRetries: 2}
}

// Orchestrator runs per-fingerprint order state machines. At most one live
// attempt may hold a fingerprint; duplicate triggers are dropped, not queued.
type Orchestrator struct {
	gateway domain.RailGateway
	risk    *risk.Controller
	auth    domain.AuthProvider
	solver  domain.CaptchaSolver
	cfg     Config

	inFlight sync.Map // domain.Fingerprint -> struct{}

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	logger *slog.Logger
}

// New creates an orchestrator sharing the process-wide risk controller.
func New(gateway domain.RailGateway, rc *risk.Controller, auth domain.AuthProvider, solver domain.CaptchaSolver, cfg Config) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CaptchaRetries <= 0 {
		cfg.CaptchaRetries = 2
	}
	return &Orchestrator{
		gateway: gateway,
		risk:    rc,
		auth:    auth,
		solver:  solver,
		cfg:     cfg,
		sleep:   realSleep,
		now:     time.Now,
		logger:  slog.Default().With("module", "order"),
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch starts an attempt for the event's fingerprint and runs it to a
// terminal state. Returns (nil, false) when the event carries no ticket or
// another attempt already holds the fingerprint. The fingerprint lock is
// acquired test-and-set and released exactly once, on the terminal
// transition.
func (o *Orchestrator) Dispatch(ctx context.Context, ev domain.ChangeEvent, target *domain.MonitorTarget) (*domain.OrderResult, bool) {
	if !ev.HasTicket {
		return nil, false
	}
	if _, held := o.inFlight.LoadOrStore(ev.Fingerprint, struct{}{}); held {
		o.logger.Debug("duplicate trigger dropped",
			slog.String("fingerprint", ev.Fingerprint.String()))
		return nil, false
	}
	defer o.inFlight.Delete(ev.Fingerprint)

	a := &attempt{
		o:      o,
		ev:     ev,
		target: target,
		state:  domain.StateValidating,
		logger: o.logger.With(slog.String("fingerprint", ev.Fingerprint.String())),
	}
	return a.run(ctx), true
}

// attempt is one live order state machine.
type attempt struct {
	o      *Orchestrator
	ev     domain.ChangeEvent
	target *domain.MonitorTarget
	state  string
	calls  int    // submit calls made
	token  string // verified captcha token, carried into confirmation
	logger *slog.Logger
}

func (a *attempt) transition(to string) {
	a.logger.Info("order state transition",
		slog.String("from", a.state),
		slog.String("to", to),
	)
	a.state = to
}

func (a *attempt) run(ctx context.Context) *domain.OrderResult {
	a.logger.Info("order attempt started",
		slog.Int("count", a.ev.Current),
		slog.String("train", a.ev.Snapshot.TrainCode),
	)

	passengers, res := a.validate(ctx)
	if res != nil {
		return res
	}

	// Once submission starts the attempt runs to a terminal state even if
	// the stop signal fires: an interrupted submit would leave the upstream
	// reservation state unknown.
	octx := context.WithoutCancel(ctx)

	reply, res := a.submit(octx)
	if res != nil {
		return res
	}

	if reply.NeedCaptcha {
		if res := a.solveCaptcha(octx); res != nil {
			return res
		}
	}

	return a.confirm(octx, reply, passengers)
}

// validate checks credential freshness and passenger availability. Both
// failures are fatal with zero retries: retrying with a dead credential
// cannot succeed and only burns rate budget.
func (a *attempt) validate(ctx context.Context) ([]domain.Passenger, *domain.OrderResult) {
	if !a.o.auth.IsTokenFresh(ctx) {
		return nil, a.fail(domain.FailTokenExpired, "session credential expired")
	}

	all, err := a.o.auth.Passengers(ctx)
	if err != nil {
		return nil, a.fail(domain.FailNoPassenger, "passenger lookup failed: "+err.Error())
	}
	selected := selectPassengers(all, a.target.Passengers)
	if len(selected) == 0 {
		return nil, a.fail(domain.FailNoPassenger, "no bookable passenger profile")
	}
	return selected, nil
}

func (a *attempt) submit(ctx context.Context) (*domain.SubmitReply, *domain.OrderResult) {
	a.transition(domain.StateSubmitting)

	req := domain.SubmitRequest{
		SecretStr:   a.ev.Snapshot.SecretStr,
		TrainDate:   a.ev.Snapshot.Date,
		FromStation: a.ev.Snapshot.FromStation,
		ToStation:   a.ev.Snapshot.ToStation,
	}

	var lastErr error
	for i := 1; i <= a.o.cfg.MaxRetries; i++ {
		if err := a.o.risk.AwaitSlot(ctx); err != nil {
			return nil, a.fail(domain.FailSuspectedBan, err.Error())
		}

		a.calls++
		reply, err := a.o.gateway.SubmitOrder(ctx, req)
		if err == nil {
			a.o.risk.OnSuccess()
			return reply, nil
		}
		lastErr = err

		if domain.IsRateLimited(err) {
			a.o.risk.OnRateLimited()
		} else {
			a.o.risk.OnError()
		}
		if !domain.IsRetriable(err) {
			return nil, a.fail(domain.FailureKindOf(err, domain.FailSubmitFailed), err.Error())
		}

		a.logger.Warn("submit rejected, retrying",
			slog.Int("attempt", i),
			slog.Any("error", err),
		)
		if i < a.o.cfg.MaxRetries {
			if err := a.o.sleep(ctx, a.o.cfg.RetryDelay); err != nil {
				return nil, a.fail(domain.FailureKindOf(lastErr, domain.FailSubmitFailed), lastErr.Error())
			}
		}
	}

	return nil, a.fail(domain.FailureKindOf(lastErr, domain.FailSubmitFailed), lastErr.Error())
}

func (a *attempt) solveCaptcha(ctx context.Context) *domain.OrderResult {
	a.transition(domain.StateCaptchaPending)

	var lastErr error
	for i := 1; i <= a.o.cfg.CaptchaRetries; i++ {
		err := a.captchaRound(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		a.logger.Warn("captcha round failed",
			slog.Int("attempt", i),
			slog.Any("error", err),
		)
	}
	return a.fail(domain.FailCaptchaFailed, lastErr.Error())
}

func (a *attempt) captchaRound(ctx context.Context) error {
	if err := a.o.risk.AwaitSlot(ctx); err != nil {
		return err
	}
	image, err := a.o.gateway.FetchCaptcha(ctx)
	if err != nil {
		a.o.risk.OnError()
		return err
	}
	a.o.risk.OnSuccess()

	// The solver is an external, potentially slow call; it does not consume
	// a request slot.
	token, err := a.o.solver.Solve(ctx, image)
	if err != nil {
		return err
	}

	if err := a.o.risk.AwaitSlot(ctx); err != nil {
		return err
	}
	if err := a.o.gateway.SubmitCaptcha(ctx, token); err != nil {
		a.o.risk.OnError()
		return err
	}
	a.o.risk.OnSuccess()
	a.token = token
	return nil
}

func (a *attempt) confirm(ctx context.Context, reply *domain.SubmitReply, passengers []domain.Passenger) *domain.OrderResult {
	a.transition(domain.StateConfirming)

	req := domain.ConfirmRequest{
		SeatClass:        a.ev.Fingerprint.SeatClass,
		Passengers:       passengers,
		KeyCheckIsChange: reply.KeyCheckIsChange,
		LeftTicketStr:    reply.LeftTicketStr,
		TrainLocation:    reply.TrainLocation,
		CaptchaToken:     a.token,
	}

	var lastErr error
	for i := 1; i <= a.o.cfg.MaxRetries; i++ {
		if err := a.o.risk.AwaitSlot(ctx); err != nil {
			return a.fail(domain.FailSuspectedBan, err.Error())
		}

		confirmed, err := a.o.gateway.ConfirmOrder(ctx, req)
		if err == nil {
			a.o.risk.OnSuccess()
			return a.succeed(confirmed)
		}
		lastErr = err

		if domain.IsRateLimited(err) {
			a.o.risk.OnRateLimited()
		} else {
			a.o.risk.OnError()
		}
		if !domain.IsRetriable(err) {
			return a.fail(domain.FailureKindOf(err, domain.FailOrderFailed), err.Error())
		}
		if i < a.o.cfg.MaxRetries {
			if err := a.o.sleep(ctx, a.o.cfg.RetryDelay); err != nil {
				break
			}
		}
	}
	return a.fail(domain.FailureKindOf(lastErr, domain.FailOrderFailed), lastErr.Error())
}

func (a *attempt) succeed(reply *domain.ConfirmReply) *domain.OrderResult {
	a.transition(domain.StateSucceeded)
	a.logger.Info("order placed",
		slog.String("order_no", reply.OrderNo),
		slog.String("price", reply.Price.String()),
		slog.Int("submit_calls", a.calls),
	)
	return &domain.OrderResult{
		Fingerprint: a.ev.Fingerprint,
		Success:     true,
		OrderNo:     reply.OrderNo,
		Price:       reply.Price,
		Attempts:    a.calls,
		FinishedAt:  a.o.now(),
	}
}

func (a *attempt) fail(kind domain.FailureKind, msg string) *domain.OrderResult {
	a.transition(domain.StateFailed)
	a.logger.Warn("order attempt failed",
		slog.String("kind", string(kind)),
		slog.String("message", msg),
		slog.Int("submit_calls", a.calls),
	)
	return &domain.OrderResult{
		Fingerprint: a.ev.Fingerprint,
		Success:     false,
		FailureKind: kind,
		Message:     msg,
		Attempts:    a.calls,
		FinishedAt:  a.o.now(),
	}
}

// selectPassengers filters profiles by the target's configured names,
// defaulting to the first profile when no names are configured.
func selectPassengers(all []domain.Passenger, names []string) []domain.Passenger {
	if len(all) == 0 {
		return nil
	}
	if len(names) == 0 {
		return all[:1]
	}
	var out []domain.Passenger
	for _, p := range all {
		for _, name := range names {
			if p.Name == name {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
