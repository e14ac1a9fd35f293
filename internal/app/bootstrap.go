// Package app wires the engine together at startup.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"rail_sniper/internal/domain"
	"rail_sniper/internal/infra"
	"rail_sniper/internal/infra/captcha"
	"rail_sniper/internal/infra/notify"
	"rail_sniper/internal/infra/railway"
	"rail_sniper/internal/infra/statusfeed"
	"rail_sniper/internal/infra/storage"
	"rail_sniper/internal/monitor"
	"rail_sniper/internal/order"
	"rail_sniper/internal/risk"
	"rail_sniper/internal/scheduler"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Gateway   *railway.Client
	Risk      *risk.Controller
	Scheduler *scheduler.Scheduler
	Status    *statusfeed.Server
	Notifier  *notify.Manager
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization.
func (b *Bootstrap) Initialize(configPath string) error {
	// .env first so config env overrides can see it. A missing file is fine.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping rail sniper",
		slog.String("version", cfg.App.Version),
		slog.Int("targets", len(cfg.Targets)),
	)

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	gateway, err := railway.NewClient(cfg)
	if err != nil {
		return err
	}
	b.Gateway = gateway

	b.Risk = risk.New(risk.Config{
		MinInterval:      time.Duration(cfg.Risk.MinIntervalSec) * time.Second,
		MaxInterval:      time.Duration(cfg.Risk.MaxIntervalSec) * time.Second,
		BackoffFactor:    cfg.Risk.BackoffFactor,
		DecayFactor:      cfg.Risk.DecayFactor,
		FailureThreshold: cfg.Risk.FailureThreshold,
		DailyLimit:       cfg.Risk.DailyLimit,
		JitterMax:        time.Duration(cfg.Risk.JitterMaxMS) * time.Millisecond,
	})

	b.Notifier = buildNotifier(cfg)

	solver := captcha.NewHTTPSolver(
		cfg.Captcha.SolverURL,
		cfg.Captcha.Token,
		time.Duration(cfg.Captcha.TimeoutSec)*time.Second,
	)

	auth := &cachingAuth{gateway: gateway, store: store}

	orders := order.New(gateway, b.Risk, auth, solver, order.Config{
		MaxRetries:     cfg.Order.MaxRetries,
		RetryDelay:     time.Duration(cfg.Order.RetryDelaySec) * time.Second,
		CaptchaRetries: cfg.Order.CaptchaRetries,
	})

	poller := monitor.NewPoller(gateway, b.Risk)
	detector := monitor.NewDetector(monitor.NewMemoryStore())

	b.Scheduler = scheduler.New(poller, detector, orders, b.Notifier, store, b.Risk, infra.GlobalMetrics)

	b.Status = statusfeed.NewServer(cfg.Status.Addr, 2*time.Second, func() statusfeed.Status {
		return statusfeed.Status{
			App:     cfg.App.Name,
			Rate:    b.Risk.Snapshot(),
			Metrics: infra.GlobalMetrics.Snapshot(),
		}
	})

	return nil
}

func buildNotifier(cfg *infra.Config) *notify.Manager {
	var senders []notify.Sender
	if cfg.Notify.ServerChan.Token != "" {
		senders = append(senders, &notify.ServerChan{Token: cfg.Notify.ServerChan.Token})
	}
	if cfg.Notify.Telegram.BotToken != "" && cfg.Notify.Telegram.ChatID != "" {
		senders = append(senders, &notify.Telegram{
			BotToken: cfg.Notify.Telegram.BotToken,
			ChatID:   cfg.Notify.Telegram.ChatID,
		})
	}
	if cfg.Notify.Webhook.URL != "" {
		senders = append(senders, &notify.Webhook{URL: cfg.Notify.Webhook.URL})
	}
	return notify.NewManager(senders...)
}

// cachingAuth layers the sqlite passenger cache over the live gateway so
// VALIDATING does not spend a request on every attempt.
type cachingAuth struct {
	gateway *railway.Client
	store   *storage.Storage
}

func (a *cachingAuth) IsTokenFresh(ctx context.Context) bool {
	return a.gateway.IsTokenFresh(ctx)
}

func (a *cachingAuth) Passengers(ctx context.Context) ([]domain.Passenger, error) {
	if cached, err := a.store.Passengers(); err == nil && len(cached) > 0 {
		return cached, nil
	}
	passengers, err := a.gateway.Passengers(ctx)
	if err != nil {
		return nil, err
	}
	if len(passengers) > 0 {
		if err := a.store.SavePassengers(passengers); err != nil {
			slog.Warn("failed to cache passengers", slog.Any("error", err))
		}
	}
	return passengers, nil
}
