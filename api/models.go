package api

import (
	"errors"
	"time"

	"github.com/auxchat/auxchat-backend/energy"
)

var (
	// ErrNotFound is returned by storage when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned by storage when the caller does not own the
	// record it tries to change.
	ErrForbidden = errors.New("forbidden")
	// ErrBlocked is returned when either side of a private conversation
	// blocked the other.
	ErrBlocked = errors.New("blocked")
	// ErrConflict is returned when a unique value is already taken.
	ErrConflict = errors.New("conflict")
)

// A User is a public profile. Energy is only filled in for the owner.
type User struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	StatusText string     `json:"status_text"`
	Energy     *int64     `json:"energy,omitempty"`
	Banned     bool       `json:"is_banned"`
	Status     string     `json:"status"`
	LastSeen   *time.Time `json:"last_seen"`
	Lat        *float64   `json:"lat"`
	Lon        *float64   `json:"lon"`
}

// A PrivateMessage is a message of a one-to-one conversation.
type PrivateMessage struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	ReceiverID int64     `json:"receiver_id"`
	Text       string    `json:"text"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// PurchaseStatus is the lifecycle state of an energy purchase.
type PurchaseStatus string

const (
	PurchasePending PurchaseStatus = "pending"
	PurchasePaid    PurchaseStatus = "paid"
)

// A Purchase is an energy top-up awaiting or having received payment.
type Purchase struct {
	ID         int64                `json:"purchase_id"`
	UserID     int64                `json:"user_id"`
	AmountPaid int64                `json:"amount_paid"`
	Energy     int64                `json:"energy"`
	Discount   int64                `json:"discount"`
	Method     energy.PaymentMethod `json:"method"`
	Status     PurchaseStatus       `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
}

// A PushEvent asks the external push service to notify a user's devices.
type PushEvent struct {
	RecipientID int64             `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

// ProfileUpdate holds the profile fields to change. Nil fields are kept.
type ProfileUpdate struct {
	Username   *string
	StatusText *string
}

// A BlockedUser is an entry of a user's block list.
type BlockedUser struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	BlockedAt time.Time `json:"blocked_at"`
}

// A Conversation summarizes the private messages exchanged with one partner.
type Conversation struct {
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	// UnreadCount counts the partner's messages not yet read.
	UnreadCount int `json:"unread_count"`
}
