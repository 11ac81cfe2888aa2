package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
)

// InTx runs fn in a transaction that holds the row of userID locked, so
// concurrent sends of the same author are serialized.
func (pg *Postgres) InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx energy.Tx) error) error {
	return pg.bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx, userID: userID})
	})
}

type ledgerTx struct {
	tx     bun.Tx
	userID int64
}

func (l *ledgerTx) Account(ctx context.Context) (energy.Account, error) {
	u := new(user)
	err := l.tx.NewSelect().
		Model(u).
		Where("id = ?", l.userID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return energy.Account{}, notFound(err, energy.ErrAccountNotFound)
	}
	return u.Account(), nil
}

func (l *ledgerTx) FindByIdempotencyKey(ctx context.Context, key string) (feed.Message, bool, error) {
	m := new(message)
	err := l.tx.NewSelect().
		Model(m).
		Where("user_id = ?", l.userID).
		Where("idempotency_key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Message{}, false, nil
	}
	if err != nil {
		return feed.Message{}, false, err
	}

	reactions, err := listReactions(ctx, l.tx, m.ID)
	if err != nil {
		return feed.Message{}, false, err
	}
	return m.FeedMessage(reactions[m.ID]), true, nil
}

func (l *ledgerTx) SetEnergy(ctx context.Context, balance int64) error {
	_, err := l.tx.NewUpdate().
		Model((*user)(nil)).
		Set("energy = ?", balance).
		Where("id = ?", l.userID).
		Exec(ctx)
	return err
}

func (l *ledgerTx) InsertMessage(ctx context.Context, msg feed.Message, idempotencyKey string) (feed.Message, error) {
	m := &message{
		UserID:         msg.UserID,
		MessageText:    msg.Text,
		Latitude:       msg.Lat,
		Longitude:      msg.Lon,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      msg.CreatedAt,
	}
	if _, err := l.tx.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
		return feed.Message{}, fmt.Errorf("insert: %w", err)
	}
	return m.FeedMessage(nil), nil
}
