// Package notify fans outcome notifications out to external channels.
// Delivery is fire-and-forget: the engine never waits on it.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Sender is one delivery channel.
type Sender interface {
	Send(title, body string) error
	Name() string
}

// Manager implements domain.Notifier over a set of channels.
type Manager struct {
	senders []Sender
	logger  *slog.Logger
}

// NewManager creates a fan-out manager. An empty sender list is valid; the
// manager then only logs.
func NewManager(senders ...Sender) *Manager {
	return &Manager{
		senders: senders,
		logger:  slog.Default().With("module", "notify"),
	}
}

// Notify delivers to every channel in background goroutines.
func (m *Manager) Notify(title, body string) {
	m.logger.Info("notification", slog.String("title", title), slog.String("body", body))
	for _, s := range m.senders {
		go func(s Sender) {
			if err := s.Send(title, body); err != nil {
				m.logger.Warn("notification delivery failed",
					slog.String("channel", s.Name()),
					slog.Any("error", err),
				)
			}
		}(s)
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// ServerChan pushes to the ServerChan WeChat relay.
type ServerChan struct {
	Token string
}

func (s *ServerChan) Name() string { return "serverchan" }

func (s *ServerChan) Send(title, body string) error {
	form := url.Values{}
	form.Set("title", title)
	form.Set("desp", body)
	resp, err := httpClient.PostForm(fmt.Sprintf("https://sctapi.ftqq.com/%s.send", s.Token), form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("serverchan status %d", resp.StatusCode)
	}
	return nil
}

// Telegram pushes through the bot sendMessage API.
type Telegram struct {
	BotToken string
	ChatID   string
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.ChatID,
		"text":    title + "\n" + body,
	})
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(
		fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken),
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}

// Webhook posts a JSON payload to an arbitrary endpoint.
type Webhook struct {
	URL string
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"title":     title,
		"content":   body,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(w.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
