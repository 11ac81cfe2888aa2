package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Poller drives a Session: the feed and the unread total every
// FeedInterval, the heartbeat every HeartbeatInterval.
type Poller struct {
	Session           *Session
	Logger            *slog.Logger
	FeedInterval      time.Duration
	HeartbeatInterval time.Duration
}

// Run polls until ctx is done or the session is invalidated, in which case
// it returns ErrInvalidated. Other failures are logged and retried on the
// next tick.
func (p *Poller) Run(ctx context.Context) error {
	feedEvery := p.FeedInterval
	if feedEvery <= 0 {
		feedEvery = 5 * time.Second
	}
	heartbeatEvery := p.HeartbeatInterval
	if heartbeatEvery <= 0 {
		heartbeatEvery = time.Minute
	}

	if err := p.Session.RefreshSubscriptions(ctx); err != nil {
		if errors.Is(err, ErrInvalidated) {
			return err
		}
		p.Logger.Error("Could not load subscriptions", "error", err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.loop(ctx, "feed", feedEvery, p.Session.Refetch(), p.Session.PollFeed)
	})
	g.Go(func() error {
		return p.loop(ctx, "unread", feedEvery, nil, p.Session.PollUnread)
	})
	g.Go(func() error {
		return p.loop(ctx, "heartbeat", heartbeatEvery, nil, p.Session.Heartbeat)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// loop runs fn at once, then on every tick and every signal of wake.
func (p *Poller) loop(ctx context.Context, name string, every time.Duration, wake <-chan struct{}, fn func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrInvalidated) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Logger.Warn("Poll failed", "loop", name, "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}
