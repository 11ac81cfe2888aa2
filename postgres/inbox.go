package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/uptrace/bun"

	"github.com/auxchat/auxchat-backend/api"
)

// Conversation returns the latest messages between userID and otherID,
// oldest first, and marks those received by userID as read.
func (pg *Postgres) Conversation(ctx context.Context, userID, otherID int64, limit int) ([]api.PrivateMessage, error) {
	var msgs []privateMessage
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&msgs).
			Relation("Sender").
			Where("((private_message.sender_id = ? AND private_message.receiver_id = ?) OR (private_message.sender_id = ? AND private_message.receiver_id = ?))",
				userID, otherID, otherID, userID).
			Order("private_message.id DESC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select conversation: %w", err)
		}

		_, err = tx.NewUpdate().
			Model((*privateMessage)(nil)).
			Set("is_read = TRUE").
			Where("sender_id = ?", otherID).
			Where("receiver_id = ?", userID).
			Where("NOT is_read").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(msgs)
	out := make([]api.PrivateMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.APIPrivateMessage()
	}
	return out, nil
}

// SendPrivate stores a private message. It fails with api.ErrBlocked if
// either side blocked the other.
func (pg *Postgres) SendPrivate(ctx context.Context, msg api.PrivateMessage) (api.PrivateMessage, error) {
	pm := &privateMessage{
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		MessageText: msg.Text,
		CreatedAt:   msg.CreatedAt,
	}
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sender := new(user)
		if err := tx.NewSelect().Model(sender).Where("id = ?", msg.SenderID).Scan(ctx); err != nil {
			return fmt.Errorf("select sender: %w", notFound(err, api.ErrNotFound))
		}
		exists, err := tx.NewSelect().Model((*user)(nil)).Where("id = ?", msg.ReceiverID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("select receiver: %w", err)
		}
		if !exists {
			return api.ErrNotFound
		}

		blocked, err := tx.NewSelect().
			Model((*blacklistEntry)(nil)).
			WhereOr("user_id = ? AND blocked_user_id = ?", msg.ReceiverID, msg.SenderID).
			WhereOr("user_id = ? AND blocked_user_id = ?", msg.SenderID, msg.ReceiverID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("select blacklist: %w", err)
		}
		if blocked {
			return api.ErrBlocked
		}

		if _, err := tx.NewInsert().Model(pm).Returning("*").Exec(ctx); err != nil {
			return fmt.Errorf("insert private message: %w", err)
		}
		pm.Sender = sender
		return nil
	})
	if err != nil {
		return api.PrivateMessage{}, err
	}
	return pm.APIPrivateMessage(), nil
}

// UnreadCount returns the number of unread private messages of userID.
func (pg *Postgres) UnreadCount(ctx context.Context, userID int64) (int, error) {
	n, err := pg.bun.NewSelect().
		Model((*privateMessage)(nil)).
		Where("receiver_id = ?", userID).
		Where("NOT is_read").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// DeletePrivate deletes a private message sent by userID.
func (pg *Postgres) DeletePrivate(ctx context.Context, userID, messageID int64) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var senderID int64
		err := tx.NewSelect().
			Model((*privateMessage)(nil)).
			Column("sender_id").
			Where("id = ?", messageID).
			Scan(ctx, &senderID)
		if err != nil {
			return fmt.Errorf("select private message: %w", notFound(err, api.ErrNotFound))
		}
		if senderID != userID {
			return api.ErrForbidden
		}

		_, err = tx.NewDelete().Model((*privateMessage)(nil)).Where("id = ?", messageID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete private message: %w", err)
		}
		return nil
	})
}

// Block adds targetID to the blacklist of userID.
func (pg *Postgres) Block(ctx context.Context, userID, targetID int64) error {
	exists, err := pg.bun.NewSelect().Model((*user)(nil)).Where("id = ?", targetID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("select user: %w", err)
	}
	if !exists {
		return api.ErrNotFound
	}

	e := &blacklistEntry{UserID: userID, BlockedUserID: targetID}
	if _, err := pg.bun.NewInsert().Model(e).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert blacklist: %w", err)
	}
	return nil
}

// Unblock removes targetID from the blacklist of userID.
func (pg *Postgres) Unblock(ctx context.Context, userID, targetID int64) error {
	_, err := pg.bun.NewDelete().
		Model((*blacklistEntry)(nil)).
		Where("user_id = ?", userID).
		Where("blocked_user_id = ?", targetID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete blacklist: %w", err)
	}
	return nil
}

type blockedRow struct {
	UserID    int64     `bun:"user_id"`
	Username  string    `bun:"username"`
	BlockedAt time.Time `bun:"blocked_at"`
}

// BlockedUsers returns the blacklist of userID, most recent first.
func (pg *Postgres) BlockedUsers(ctx context.Context, userID int64) ([]api.BlockedUser, error) {
	var rows []blockedRow
	err := pg.bun.NewSelect().
		TableExpr("blacklist AS b").
		ColumnExpr("b.blocked_user_id AS user_id").
		ColumnExpr("u.username").
		ColumnExpr("b.created_at AS blocked_at").
		Join("JOIN users AS u ON u.id = b.blocked_user_id").
		Where("b.user_id = ?", userID).
		OrderExpr("b.created_at DESC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("select blacklist: %w", err)
	}

	out := make([]api.BlockedUser, len(rows))
	for i, r := range rows {
		out[i] = api.BlockedUser{UserID: r.UserID, Username: r.Username, BlockedAt: r.BlockedAt}
	}
	return out, nil
}

type conversationRow struct {
	UserID        int64     `bun:"user_id"`
	Username      string    `bun:"username"`
	LastMessage   string    `bun:"last_message"`
	LastMessageAt time.Time `bun:"last_message_at"`
	UnreadCount   int       `bun:"unread_count"`
}

const conversationsQuery = `
SELECT p.partner_id AS user_id,
       u.username,
       p.message_text AS last_message,
       p.created_at AS last_message_at,
       (SELECT count(*) FROM private_messages AS r
         WHERE r.sender_id = p.partner_id AND r.receiver_id = ? AND NOT r.is_read) AS unread_count
FROM (
    SELECT DISTINCT ON (partner_id) partner_id, id, message_text, created_at
    FROM (
        SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id,
               id, message_text, created_at
        FROM private_messages
        WHERE sender_id = ? OR receiver_id = ?
    ) AS m
    ORDER BY partner_id, id DESC
) AS p
JOIN users AS u ON u.id = p.partner_id
ORDER BY p.id DESC`

// Conversations returns one entry per conversation partner of userID with
// the latest message and the partner's unread messages.
func (pg *Postgres) Conversations(ctx context.Context, userID int64) ([]api.Conversation, error) {
	var rows []conversationRow
	if err := pg.bun.NewRaw(conversationsQuery, userID, userID, userID, userID).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}

	out := make([]api.Conversation, len(rows))
	for i, r := range rows {
		out[i] = api.Conversation{
			UserID:        r.UserID,
			Username:      r.Username,
			LastMessage:   r.LastMessage,
			LastMessageAt: r.LastMessageAt,
			UnreadCount:   r.UnreadCount,
		}
	}
	return out, nil
}
