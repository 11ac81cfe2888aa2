package energy

import "errors"

// The error codes below are part of the wire protocol: their messages are
// returned verbatim in API error bodies.
var (
	// ErrInsufficientEnergy means the balance does not cover the message
	// cost. Nothing was debited.
	ErrInsufficientEnergy = errors.New("InsufficientEnergy")
	// ErrAuthorBanned means the author may not post. Clients must end the
	// session.
	ErrAuthorBanned = errors.New("AuthorBanned")
	// ErrInvalidAmount means a purchase amount is outside the schedule.
	ErrInvalidAmount = errors.New("ValidationFailure")
)

// ErrAccountNotFound is returned by a Ledger when the user does not exist.
var ErrAccountNotFound = errors.New("account not found")
