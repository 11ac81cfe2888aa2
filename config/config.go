// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
)

// Server configures the HTTP backend.
type Server struct {
	ListenAddr  string `env:"LISTEN_ADDR,default=:8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	// RedisAddr and NATSURL are optional; an empty value disables the feed
	// cache and push notifications respectively.
	RedisAddr string `env:"REDIS_ADDR"`
	NATSURL   string `env:"NATS_URL"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	JWTSecret         string `env:"JWT_SECRET"`
	TrustUserIDHeader bool   `env:"TRUST_USER_ID_HEADER,default=false"`
	WebhookSecret     string `env:"PAYMENT_WEBHOOK_SECRET"`

	MessageCost     int64         `env:"MESSAGE_COST,default=1"`
	SendRatePerSec  float64       `env:"SEND_RATE_PER_SEC,default=1"`
	SendBurst       int           `env:"SEND_BURST,default=5"`
	LimiterIdle     time.Duration `env:"SEND_LIMITER_IDLE,default=10m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	PricingFloor       int64 `env:"PRICING_FLOOR,default=500"`
	PricingCeiling     int64 `env:"PRICING_CEILING,default=10000"`
	PricingMaxDiscount int64 `env:"PRICING_MAX_DISCOUNT,default=30"`
}

// Schedule returns the configured pricing schedule.
func (s Server) Schedule() energy.Schedule {
	return energy.Schedule{
		Floor:       s.PricingFloor,
		Ceiling:     s.PricingCeiling,
		MaxDiscount: s.PricingMaxDiscount,
	}
}

func (s Server) validate() error {
	var errs []error
	if s.MessageCost <= 0 {
		errs = append(errs, errors.New("MESSAGE_COST must be positive"))
	}
	if s.PricingFloor < 0 || s.PricingCeiling <= s.PricingFloor {
		errs = append(errs, errors.New("PRICING_CEILING must be greater than PRICING_FLOOR"))
	}
	if s.PricingMaxDiscount < 0 || s.PricingMaxDiscount > 100 {
		errs = append(errs, errors.New("PRICING_MAX_DISCOUNT must be within [0, 100]"))
	}
	if s.JWTSecret == "" && !s.TrustUserIDHeader {
		errs = append(errs, errors.New("one of JWT_SECRET or TRUST_USER_ID_HEADER is required"))
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Watcher configures the feed watching client.
type Watcher struct {
	BaseURL string `env:"AUXCHAT_URL,default=http://localhost:8080"`
	Token   string `env:"AUXCHAT_TOKEN"`
	UserID  int64  `env:"AUXCHAT_USER_ID"`
	Radius  string `env:"AUXCHAT_RADIUS,default=100"`
	Lat     string `env:"AUXCHAT_LAT"`
	Lon     string `env:"AUXCHAT_LON"`
	// SendCost mirrors the server's MESSAGE_COST for the local balance check.
	SendCost int64  `env:"AUXCHAT_SEND_COST,default=1"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	FeedInterval      time.Duration `env:"AUXCHAT_FEED_INTERVAL,default=5s"`
	HeartbeatInterval time.Duration `env:"AUXCHAT_HEARTBEAT_INTERVAL,default=60s"`
	RequestTimeout    time.Duration `env:"AUXCHAT_REQUEST_TIMEOUT,default=10s"`
}

// GeoRadius parses the configured radius.
func (w Watcher) GeoRadius() (feed.Radius, error) {
	return feed.ParseRadius(w.Radius)
}

func (w Watcher) validate() error {
	var errs []error
	if w.Token == "" && w.UserID <= 0 {
		errs = append(errs, errors.New("one of AUXCHAT_TOKEN or AUXCHAT_USER_ID is required"))
	}
	if _, err := w.GeoRadius(); err != nil {
		errs = append(errs, fmt.Errorf("AUXCHAT_RADIUS: %w", err))
	}
	if (w.Lat == "") != (w.Lon == "") {
		errs = append(errs, errors.New("AUXCHAT_LAT and AUXCHAT_LON must be set together"))
	}
	if w.FeedInterval <= 0 || w.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("poll intervals must be positive"))
	}
	if _, err := ParseLevel(w.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadServer reads the server configuration. Variables already present in
// the environment take precedence over the given .env files, which may be
// missing.
func LoadServer(envFiles ...string) (Server, error) {
	var cfg Server
	if err := load(&cfg, envFiles); err != nil {
		return Server{}, err
	}
	if err := cfg.validate(); err != nil {
		return Server{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadWatcher reads the watcher configuration like LoadServer.
func LoadWatcher(envFiles ...string) (Watcher, error) {
	var cfg Watcher
	if err := load(&cfg, envFiles); err != nil {
		return Watcher{}, err
	}
	if err := cfg.validate(); err != nil {
		return Watcher{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func load(dst any, envFiles []string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := envdecode.Decode(dst); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode env: %w", err)
	}
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
