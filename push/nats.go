// Package push hands push notifications to the delivery service over NATS.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/auxchat/auxchat-backend/api"
)

// DefaultSubject is the subject prefix notifications are published under.
// The recipient id is appended, e.g. push.user.42.
const DefaultSubject = "push.user"

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher publishes api.PushEvent values as JSON.
type Publisher struct {
	conn    conn
	subject string
}

// Config holds NATS configuration.
type Config struct {
	URL            string
	Name           string
	Subject        string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Connect connects to NATS. Reconnects are logged through logger.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newPublisher(nc, cfg.Subject), nil
}

func newPublisher(c conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject}
}

// Publish sends ev to the recipient's subject. Delivery is at most once.
func (p *Publisher) Publish(ctx context.Context, ev api.PushEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal push event: %w", err)
	}
	subject := fmt.Sprintf("%s.%d", p.subject, ev.RecipientID)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
