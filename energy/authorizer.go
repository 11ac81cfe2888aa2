package energy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/auxchat/auxchat-backend/feed"
)

// DefaultMessageCost is the energy debited per feed message.
const DefaultMessageCost = 1

// Account is a user's ledger row as seen inside a transaction.
type Account struct {
	UserID int64
	Energy int64
	Banned bool
	Lat    *float64
	Lon    *float64
}

// Tx is one ledger transaction holding the author's account locked. Nothing
// done through a Tx is visible to others unless the transaction commits.
type Tx interface {
	Account(ctx context.Context) (Account, error)
	FindByIdempotencyKey(ctx context.Context, key string) (feed.Message, bool, error)
	SetEnergy(ctx context.Context, energy int64) error
	InsertMessage(ctx context.Context, msg feed.Message, idempotencyKey string) (feed.Message, error)
}

// A Ledger runs fn in a transaction scoped to userID's account. The
// transaction commits if fn returns nil and rolls back otherwise.
type Ledger interface {
	InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx Tx) error) error
}

// State is a step of a single send attempt.
type State int

const (
	Idle State = iota
	Checking
	Authorized
	Denied
	Debited
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	case Debited:
		return "debited"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// SendRequest is one attempt to post to the feed.
type SendRequest struct {
	AuthorID       int64
	Text           string
	Origin         *feed.Point
	IdempotencyKey string
}

// Receipt is the result of a successful send. Energy is the authoritative
// balance after the send.
type Receipt struct {
	Message  feed.Message
	Energy   int64
	Replayed bool
}

// Authorizer gates feed posts on the author's energy balance.
type Authorizer struct {
	Ledger Ledger
	Cost   int64
	Logger *slog.Logger
	Now    func() time.Time

	// Trace, if set, is called on every state transition.
	Trace func(req SendRequest, s State)
}

// NewAuthorizer returns an Authorizer charging cost per message. A
// non-positive cost falls back to DefaultMessageCost.
func NewAuthorizer(ledger Ledger, cost int64, logger *slog.Logger) *Authorizer {
	if cost <= 0 {
		cost = DefaultMessageCost
	}
	return &Authorizer{
		Ledger: ledger,
		Cost:   cost,
		Logger: logger,
		Now:    time.Now,
	}
}

func (a *Authorizer) trace(req SendRequest, s State) {
	if a.Trace != nil {
		a.Trace(req, s)
	}
}

// Send debits the message cost and creates the message in one transaction.
// It returns ErrAuthorBanned or ErrInsufficientEnergy without side effects
// when the author may not post. A request repeating an idempotency key
// already used by the author returns the original message and the current
// balance, without a second debit.
func (a *Authorizer) Send(ctx context.Context, req SendRequest) (Receipt, error) {
	req.Text = strings.TrimSpace(req.Text)

	var receipt Receipt
	err := a.Ledger.InTx(ctx, req.AuthorID, func(ctx context.Context, tx Tx) error {
		a.trace(req, Checking)
		acct, err := tx.Account(ctx)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		if acct.Banned {
			a.trace(req, Denied)
			return ErrAuthorBanned
		}

		if req.IdempotencyKey != "" {
			msg, ok, err := tx.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("find by idempotency key: %w", err)
			}
			if ok {
				receipt = Receipt{Message: msg, Energy: acct.Energy, Replayed: true}
				return nil
			}
		}

		if acct.Energy < a.Cost {
			a.trace(req, Denied)
			return ErrInsufficientEnergy
		}
		a.trace(req, Authorized)

		balance := acct.Energy - a.Cost
		if err := tx.SetEnergy(ctx, balance); err != nil {
			return fmt.Errorf("set energy: %w", err)
		}

		draft := feed.Message{
			UserID:    req.AuthorID,
			Text:      req.Text,
			CreatedAt: a.Now().UTC(),
			Reactions: []feed.Reaction{},
		}
		origin := req.Origin
		if origin == nil {
			origin = feed.PointOf(acct.Lat, acct.Lon)
		}
		if origin != nil {
			lat, lon := origin.Lat, origin.Lon
			draft.Lat, draft.Lon = &lat, &lon
		}

		msg, err := tx.InsertMessage(ctx, draft, req.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		receipt = Receipt{Message: msg, Energy: balance}
		return nil
	})
	if err != nil {
		if a.Logger != nil {
			if errors.Is(err, ErrInsufficientEnergy) || errors.Is(err, ErrAuthorBanned) {
				a.Logger.Info("Message send denied", "user_id", req.AuthorID, "reason", err.Error())
			} else {
				a.Logger.Error("Message send failed", "user_id", req.AuthorID, "error", err.Error())
			}
		}
		return Receipt{}, err
	}
	if !receipt.Replayed {
		a.trace(req, Debited)
	}
	a.trace(req, Idle)
	return receipt, nil
}
