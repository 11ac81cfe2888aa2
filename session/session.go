// Package session keeps the viewer-side state of one logged-in user: the
// feed filter, the notification cursor, the unread watermark and the last
// balance the server reported.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/auxchat/auxchat-backend/client"
	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
)

// ErrInvalidated is returned by every operation once the session ended.
var ErrInvalidated = errors.New("session invalidated")

// Backend is the part of the chat API a session uses. *client.Client
// implements it.
type Backend interface {
	Balance(ctx context.Context) (int64, error)
	SendMessage(ctx context.Context, text string, origin *feed.Point) (client.Sent, error)
	Messages(ctx context.Context, q client.MessagesQuery) ([]feed.Message, error)
	SubscribedAuthorIDs(ctx context.Context) ([]int64, error)
	UnreadCount(ctx context.Context) (int, error)
	Heartbeat(ctx context.Context) error
}

// Hooks are called outside the session lock. Any of them may be nil.
type Hooks struct {
	// OnSound is called when the unread private message total grew.
	OnSound func()
	// OnSubscribedBadge is called with the number of new posts by
	// subscribed authors of one poll and the badge total.
	OnSubscribedBadge func(fresh, total int)
	// OnLogout is called once, when the session is invalidated.
	OnLogout func(reason error)
}

// Options configure a Session.
type Options struct {
	Location *feed.Point
	// Radius defaults to feed.DefaultRadius.
	Radius   feed.Radius
	PageSize int
	// SendCost is the price of a message used for the local balance check.
	// Zero disables the check.
	SendCost int64
	Hooks    Hooks
}

// Session is the state of one viewer. It is safe for concurrent use.
type Session struct {
	backend  Backend
	logger   *slog.Logger
	viewerID int64
	pageSize int
	sendCost int64
	hooks    Hooks

	mu           sync.Mutex
	location     *feed.Point
	radius       feed.Radius
	notifier     *feed.Notifier
	unread       feed.UnreadWatermark
	messages     []feed.Message
	balance      int64
	balanceKnown bool
	balanceStale bool
	invalidated  bool

	refetch chan struct{}
}

// New returns a session for viewerID.
func New(backend Backend, viewerID int64, opts Options, logger *slog.Logger) *Session {
	if opts.Radius == 0 {
		opts.Radius = feed.DefaultRadius
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Session{
		backend:  backend,
		logger:   logger,
		viewerID: viewerID,
		pageSize: opts.PageSize,
		sendCost: opts.SendCost,
		hooks:    opts.Hooks,
		location: opts.Location,
		radius:   opts.Radius,
		notifier: feed.NewNotifier(viewerID, nil),
		refetch:  make(chan struct{}, 1),
	}
}

// ViewerID returns the user the session belongs to.
func (s *Session) ViewerID() int64 { return s.viewerID }

// Invalidated reports whether the session ended.
func (s *Session) Invalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// Balance returns the last balance reported by the server and whether it
// may be out of date.
func (s *Session) Balance() (balance int64, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, s.balanceStale || !s.balanceKnown
}

// Messages returns the last fetched feed page.
func (s *Session) Messages() []feed.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feed.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Radius returns the current visibility radius.
func (s *Session) Radius() feed.Radius {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.radius
}

// SetRadius changes the visibility radius and requests a full re-fetch.
func (s *Session) SetRadius(r feed.Radius) {
	s.mu.Lock()
	changed := s.radius != r
	s.radius = r
	s.mu.Unlock()

	if changed {
		s.requestRefetch()
	}
}

// SetLocation changes the viewer location and requests a full re-fetch.
func (s *Session) SetLocation(p *feed.Point) {
	s.mu.Lock()
	s.location = p
	s.mu.Unlock()
	s.requestRefetch()
}

func (s *Session) requestRefetch() {
	select {
	case s.refetch <- struct{}{}:
	default:
	}
}

// Refetch is signalled when the feed filter changed.
func (s *Session) Refetch() <-chan struct{} {
	return s.refetch
}

// Badge returns the number of uncleared subscribed-author posts.
func (s *Session) Badge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier.Badge()
}

// ClearBadge resets the subscribed-author badge.
func (s *Session) ClearBadge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier.ClearBadge()
}

// Send posts text to the feed from the viewer's location. The balance
// snapshot is replaced by the balance the server returns; a transport
// failure leaves it stale since the send may have been applied.
func (s *Session) Send(ctx context.Context, text string) (client.Sent, error) {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return client.Sent{}, ErrInvalidated
	}
	if s.sendCost > 0 && s.balanceKnown && !s.balanceStale && s.balance < s.sendCost {
		s.mu.Unlock()
		return client.Sent{}, energy.ErrInsufficientEnergy
	}
	origin := s.location
	s.mu.Unlock()

	sent, err := s.backend.SendMessage(ctx, text, origin)
	if err != nil {
		s.handleError(err)
		return client.Sent{}, err
	}

	s.mu.Lock()
	s.balance, s.balanceKnown, s.balanceStale = sent.Energy, true, false
	s.mu.Unlock()
	return sent, nil
}

// handleError applies the effect of a failed call on the session state.
func (s *Session) handleError(err error) {
	switch {
	case errors.Is(err, energy.ErrAuthorBanned):
		s.invalidate(err)
	case errors.Is(err, energy.ErrInsufficientEnergy), errors.Is(err, client.ErrTransport):
		s.mu.Lock()
		s.balanceStale = true
		s.mu.Unlock()
	}
}

func (s *Session) invalidate(reason error) {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	s.mu.Unlock()

	s.logger.Warn("Session invalidated", "user_id", s.viewerID, "reason", reason.Error())
	if s.hooks.OnLogout != nil {
		s.hooks.OnLogout(reason)
	}
}

// RefreshBalance replaces the balance snapshot with the server's value.
func (s *Session) RefreshBalance(ctx context.Context) (int64, error) {
	if s.Invalidated() {
		return 0, ErrInvalidated
	}
	balance, err := s.backend.Balance(ctx)
	if err != nil {
		s.handleError(err)
		return 0, fmt.Errorf("balance: %w", err)
	}

	s.mu.Lock()
	s.balance, s.balanceKnown, s.balanceStale = balance, true, false
	s.mu.Unlock()
	return balance, nil
}

// RefreshSubscriptions reloads the subscribed authors. The notification
// cursor is kept.
func (s *Session) RefreshSubscriptions(ctx context.Context) error {
	if s.Invalidated() {
		return ErrInvalidated
	}
	ids, err := s.backend.SubscribedAuthorIDs(ctx)
	if err != nil {
		s.handleError(err)
		return fmt.Errorf("subscriptions: %w", err)
	}

	s.mu.Lock()
	s.notifier.SetSubscriptions(feed.NewSubscriptionSet(ids...))
	s.mu.Unlock()
	return nil
}

// PollFeed fetches the feed page and updates the notification badge.
func (s *Session) PollFeed(ctx context.Context) error {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return ErrInvalidated
	}
	q := client.MessagesQuery{Limit: s.pageSize, Radius: s.radius, Viewer: s.location}
	s.mu.Unlock()

	msgs, err := s.backend.Messages(ctx, q)
	if err != nil {
		s.handleError(err)
		return fmt.Errorf("messages: %w", err)
	}

	s.mu.Lock()
	// The server filters too; re-filtering covers a radius changed while
	// the request was in flight.
	s.messages = feed.Visible(msgs, s.location, s.radius)
	fresh := s.notifier.Tick(msgs)
	total := s.notifier.Badge()
	s.mu.Unlock()

	if fresh > 0 && s.hooks.OnSubscribedBadge != nil {
		s.hooks.OnSubscribedBadge(fresh, total)
	}
	return nil
}

// PollUnread fetches the unread private message total and plays a sound
// when it grew.
func (s *Session) PollUnread(ctx context.Context) error {
	if s.Invalidated() {
		return ErrInvalidated
	}
	total, err := s.backend.UnreadCount(ctx)
	if err != nil {
		s.handleError(err)
		return fmt.Errorf("unread count: %w", err)
	}

	s.mu.Lock()
	sound := s.unread.Observe(total)
	s.mu.Unlock()

	if sound && s.hooks.OnSound != nil {
		s.hooks.OnSound()
	}
	return nil
}

// Heartbeat reports the viewer as online. A banned viewer is logged out.
func (s *Session) Heartbeat(ctx context.Context) error {
	if s.Invalidated() {
		return ErrInvalidated
	}
	if err := s.backend.Heartbeat(ctx); err != nil {
		s.handleError(err)
		if errors.Is(err, energy.ErrAuthorBanned) {
			return ErrInvalidated
		}
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}
