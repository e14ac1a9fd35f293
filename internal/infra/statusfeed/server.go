// Package statusfeed serves live engine state over a localhost websocket
// so a dashboard or CLI can watch the bot without touching its logs.
package statusfeed

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rail_sniper/internal/infra"
	"rail_sniper/internal/risk"
)

// Status is one push frame.
type Status struct {
	App     string                `json:"app"`
	Rate    risk.State            `json:"rate"`
	Metrics infra.MetricsSnapshot `json:"metrics"`
}

// Server pushes Status frames to connected websocket clients.
type Server struct {
	addr     string
	interval time.Duration
	snapshot func() Status
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a status feed on addr pushing every interval.
func NewServer(addr string, interval time.Duration, snapshot func() Status) *Server {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Server{
		addr:     addr,
		interval: interval,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Localhost-only feed, no cross-origin callers expected.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default().With("module", "statusfeed"),
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status feed listening", slog.String("addr", s.addr))
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	s.logger.Info("status client connected", slog.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Push an immediate frame so clients don't wait a full interval.
	if err := s.push(conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-ticker.C:
			if err := s.push(conn); err != nil {
				s.logger.Debug("status client gone", slog.Any("error", err))
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(s.snapshot())
}
