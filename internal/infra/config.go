package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rail_sniper/internal/domain"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// TargetConfig is one monitored route as it appears in the YAML file.
type TargetConfig struct {
	Date       string   `yaml:"date"`
	From       string   `yaml:"from"`
	To         string   `yaml:"to"`
	Trains     []string `yaml:"trains"`
	Seats      []string `yaml:"seats"` // priority order, highest first
	Priority   int      `yaml:"priority"`
	Passengers []string `yaml:"passengers"`
}

// Config holds the full application configuration. Sensitive values are
// overridden from environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Upstream UpstreamConfig `yaml:"upstream"`

	Risk struct {
		MinIntervalSec   int     `yaml:"min_interval_sec"`
		MaxIntervalSec   int     `yaml:"max_interval_sec"`
		BackoffFactor    float64 `yaml:"backoff_factor"`
		DecayFactor      float64 `yaml:"decay_factor"`
		FailureThreshold int     `yaml:"failure_threshold"`
		DailyLimit       int     `yaml:"daily_limit"`
		JitterMaxMS      int     `yaml:"jitter_max_ms"`
	} `yaml:"risk"`

	Order struct {
		MaxRetries     int `yaml:"max_retries"`
		RetryDelaySec  int `yaml:"retry_delay_sec"`
		CaptchaRetries int `yaml:"captcha_retries"`
	} `yaml:"order"`

	Captcha struct {
		SolverURL  string `yaml:"solver_url"`
		Token      string `yaml:"token"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"captcha"`

	Notify struct {
		ServerChan struct {
			Token string `yaml:"token"`
		} `yaml:"serverchan"`
		Telegram struct {
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
		Webhook struct {
			URL string `yaml:"url"`
		} `yaml:"webhook"`
	} `yaml:"notify"`

	Status struct {
		Addr string `yaml:"addr"` // websocket status feed listen address
	} `yaml:"status"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Targets []TargetConfig `yaml:"targets"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://kyfw.12306.cn"
	}
	if c.Upstream.TimeoutSec <= 0 {
		c.Upstream.TimeoutSec = 10
	}
	if c.Risk.MinIntervalSec <= 0 {
		c.Risk.MinIntervalSec = 5
	}
	if c.Risk.MaxIntervalSec <= 0 {
		c.Risk.MaxIntervalSec = 15
	}
	if c.Risk.BackoffFactor <= 1 {
		c.Risk.BackoffFactor = 1.5
	}
	if c.Risk.DecayFactor <= 0 || c.Risk.DecayFactor >= 1 {
		c.Risk.DecayFactor = 0.9
	}
	if c.Risk.FailureThreshold <= 0 {
		c.Risk.FailureThreshold = 5
	}
	if c.Risk.DailyLimit <= 0 {
		c.Risk.DailyLimit = 1000
	}
	if c.Risk.JitterMaxMS <= 0 {
		c.Risk.JitterMaxMS = 1000
	}
	if c.Order.MaxRetries <= 0 {
		c.Order.MaxRetries = 3
	}
	if c.Order.RetryDelaySec <= 0 {
		c.Order.RetryDelaySec = 2
	}
	if c.Order.CaptchaRetries <= 0 {
		c.Order.CaptchaRetries = 2
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/rail_sniper.db"
	}
	if c.Status.Addr == "" {
		c.Status.Addr = "localhost:8787"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.Upstream.BaseURL, "http://") && !hasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("invalid upstream base URL: %s", c.Upstream.BaseURL)
	}
	if c.Risk.MinIntervalSec > c.Risk.MaxIntervalSec {
		return fmt.Errorf("min interval %ds exceeds max interval %ds", c.Risk.MinIntervalSec, c.Risk.MaxIntervalSec)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one monitor target is required")
	}
	for i, t := range c.Targets {
		if _, err := time.Parse("2006-01-02", t.Date); err != nil {
			return fmt.Errorf("target %d: invalid date %q", i, t.Date)
		}
		if t.From == "" || t.To == "" {
			return fmt.Errorf("target %d: origin and destination codes are required", i)
		}
		if len(t.Seats) == 0 {
			return fmt.Errorf("target %d: at least one seat class is required", i)
		}
	}
	return nil
}

// UpstreamConfig points the client at the ticketing service.
type UpstreamConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	Cookie     string `yaml:"cookie"` // session credential blob
}

// Timeout returns the per-call upstream deadline.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// MonitorTargets converts the configured targets to domain objects.
func (c *Config) MonitorTargets() []*domain.MonitorTarget {
	targets := make([]*domain.MonitorTarget, 0, len(c.Targets))
	for _, t := range c.Targets {
		targets = append(targets, &domain.MonitorTarget{
			Date:        t.Date,
			FromCode:    t.From,
			ToCode:      t.To,
			TrainCodes:  t.Trains,
			SeatClasses: t.Seats,
			Priority:    t.Priority,
			Passengers:  t.Passengers,
		})
	}
	return targets
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces sensitive values with environment variables when set.
func overrideWithEnv(cfg *Config) {
	if cookie := os.Getenv("RAIL_SNIPER_COOKIE"); cookie != "" {
		cfg.Upstream.Cookie = cookie
	}
	if token := os.Getenv("RAIL_SNIPER_SERVERCHAN_TOKEN"); token != "" {
		cfg.Notify.ServerChan.Token = token
	}
	if token := os.Getenv("RAIL_SNIPER_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.BotToken = token
	}
	if chat := os.Getenv("RAIL_SNIPER_TELEGRAM_CHAT"); chat != "" {
		cfg.Notify.Telegram.ChatID = chat
	}
	if token := os.Getenv("RAIL_SNIPER_CAPTCHA_TOKEN"); token != "" {
		cfg.Captcha.Token = token
	}
}
