// Package monitor turns periodic availability snapshots into discrete
// change events.
package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"rail_sniper/internal/domain"
	"rail_sniper/internal/risk"
)

// Poller issues availability queries through the shared risk controller and
// returns normalized snapshots.
type Poller struct {
	gateway domain.RailGateway
	risk    *risk.Controller
	logger  *slog.Logger
}

// NewPoller creates a poller bound to the shared pacing controller.
func NewPoller(gateway domain.RailGateway, rc *risk.Controller) *Poller {
	return &Poller{
		gateway: gateway,
		risk:    rc,
		logger:  slog.Default().With("module", "poller"),
	}
}

// Poll reserves a request slot, queries one (date, origin, destination)
// triple, and feeds the outcome back into the controller. Train and seat
// class filtering happens client-side in the detector; one query covers the
// whole target.
func (p *Poller) Poll(ctx context.Context, target *domain.MonitorTarget) ([]*domain.SeatSnapshot, error) {
	if err := p.risk.AwaitSlot(ctx); err != nil {
		return nil, err
	}

	snaps, err := p.gateway.QueryLeftTickets(ctx, target.Date, target.FromCode, target.ToCode)
	if err != nil {
		if domain.IsRateLimited(err) {
			p.risk.OnRateLimited()
		} else {
			p.risk.OnError()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrQueryFailed, err)
	}

	p.risk.OnSuccess()
	p.logger.Debug("poll completed",
		slog.String("date", target.Date),
		slog.String("from", target.FromCode),
		slog.String("to", target.ToCode),
		slog.Int("trains", len(snaps)),
	)
	return snaps, nil
}
