package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/auxchat/auxchat-backend/api"
	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
)

type user struct {
	bun.BaseModel `bun:"table:users"`

	ID           int64      `bun:",pk,autoincrement"`
	Username     string     `bun:",notnull"`
	StatusText   string     `bun:",notnull"`
	Phone        string     `bun:",nullzero"`
	Energy       int64      `bun:",notnull"`
	IsBanned     bool       `bun:",notnull"`
	Latitude     *float64   `bun:"latitude"`
	Longitude    *float64   `bun:"longitude"`
	LastActivity *time.Time `bun:"last_activity"`
}

// A message represents a feed message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages"`

	ID             int64     `bun:",pk,autoincrement"`
	UserID         int64     `bun:",notnull"`
	MessageText    string    `bun:"message_text,notnull"`
	Latitude       *float64  `bun:"latitude"`
	Longitude      *float64  `bun:"longitude"`
	IdempotencyKey string    `bun:",nullzero"`
	CreatedAt      time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type reaction struct {
	bun.BaseModel `bun:"table:reactions"`

	ID        int64     `bun:",pk,autoincrement"`
	MessageID int64     `bun:",notnull"`
	UserID    int64     `bun:",notnull"`
	Emoji     string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// reactionCount is one row of the per message emoji aggregate.
type reactionCount struct {
	MessageID int64  `bun:"message_id"`
	Emoji     string `bun:"emoji"`
	Count     int    `bun:"count"`
}

type subscription struct {
	bun.BaseModel `bun:"table:subscriptions"`

	UserID       int64 `bun:",pk"`
	TargetUserID int64 `bun:",pk"`
}

type purchase struct {
	bun.BaseModel `bun:"table:purchases"`

	ID              int64     `bun:",pk,autoincrement"`
	UserID          int64     `bun:",notnull"`
	AmountPaid      int64     `bun:",notnull"`
	EnergyGranted   int64     `bun:",notnull"`
	DiscountPercent int64     `bun:",notnull"`
	Method          string    `bun:",notnull"`
	Status          string    `bun:",notnull"`
	CreatedAt       time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type privateMessage struct {
	bun.BaseModel `bun:"table:private_messages"`

	ID          int64     `bun:",pk,autoincrement"`
	SenderID    int64     `bun:",notnull"`
	ReceiverID  int64     `bun:",notnull"`
	MessageText string    `bun:"message_text,notnull"`
	IsRead      bool      `bun:",notnull"`
	CreatedAt   time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	Sender      *user     `bun:"rel:belongs-to,join:sender_id=id"`
}

type blacklistEntry struct {
	bun.BaseModel `bun:"table:blacklist"`

	UserID        int64 `bun:",pk"`
	BlockedUserID int64 `bun:",pk"`
}

func (u user) APIUser() api.User {
	balance := u.Energy
	return api.User{
		ID:         u.ID,
		Username:   u.Username,
		StatusText: u.StatusText,
		Energy:     &balance,
		Banned:     u.IsBanned,
		LastSeen:   u.LastActivity,
		Lat:        u.Latitude,
		Lon:        u.Longitude,
	}
}

func (u user) Account() energy.Account {
	return energy.Account{
		UserID: u.ID,
		Energy: u.Energy,
		Banned: u.IsBanned,
		Lat:    u.Latitude,
		Lon:    u.Longitude,
	}
}

func (m message) FeedMessage(reactions []feed.Reaction) feed.Message {
	if reactions == nil {
		reactions = []feed.Reaction{}
	}
	return feed.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Text:      m.MessageText,
		CreatedAt: m.CreatedAt,
		Lat:       m.Latitude,
		Lon:       m.Longitude,
		Reactions: reactions,
	}
}

func (p purchase) APIPurchase() api.Purchase {
	return api.Purchase{
		ID:         p.ID,
		UserID:     p.UserID,
		AmountPaid: p.AmountPaid,
		Energy:     p.EnergyGranted,
		Discount:   p.DiscountPercent,
		Method:     energy.PaymentMethod(p.Method),
		Status:     api.PurchaseStatus(p.Status),
		CreatedAt:  p.CreatedAt,
	}
}

func (m privateMessage) APIPrivateMessage() api.PrivateMessage {
	pm := api.PrivateMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.MessageText,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
	}
	if m.Sender != nil {
		pm.SenderName = m.Sender.Username
	}
	return pm
}
