package postgres

import (
	"cmp"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/auxchat/auxchat-backend/api"
	"github.com/auxchat/auxchat-backend/feed"
)

//go:embed schema.sql
var schema string

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Migrate creates the tables that do not exist yet.
func (pg *Postgres) Migrate(ctx context.Context) error {
	if _, err := pg.bun.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// notFound maps a missing row to err.
func notFound(err, as error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return as
	}
	return err
}

// ListMessages returns the newest page of feed messages starting at offset.
func (pg *Postgres) ListMessages(ctx context.Context, limit, offset int, excludeMsgIDs ...int64) ([]feed.Message, error) {
	var msgs []message
	q := pg.bun.NewSelect().
		Model(&msgs).
		Order("id DESC").
		Limit(limit).
		Offset(offset)

	if len(excludeMsgIDs) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(excludeMsgIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	reactions, err := listReactions(ctx, pg.bun, ids...)
	if err != nil {
		return nil, err
	}

	out := make([]feed.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.FeedMessage(reactions[m.ID])
	}
	return out, nil
}

// listReactions aggregates the reactions of the given messages into emoji counts,
// most used first.
func listReactions(ctx context.Context, db bun.IDB, messageIDs ...int64) (map[int64][]feed.Reaction, error) {
	var rows []reactionCount
	err := db.NewSelect().
		Model((*reaction)(nil)).
		Column("message_id", "emoji").
		ColumnExpr("count(*) AS count").
		Where("message_id IN (?)", bun.In(messageIDs)).
		Group("message_id", "emoji").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("scan reactions: %w", err)
	}

	out := make(map[int64][]feed.Reaction)
	for _, row := range rows {
		out[row.MessageID] = append(out[row.MessageID], feed.Reaction{Emoji: row.Emoji, Count: row.Count})
	}
	for _, rs := range out {
		slices.SortFunc(rs, func(a, b feed.Reaction) int {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
			return cmp.Compare(a.Emoji, b.Emoji)
		})
	}
	return out, nil
}

// InsertReaction records that userID reacted with emoji and returns the
// message's reactions afterwards. Repeating a reaction is a no-op.
func (pg *Postgres) InsertReaction(ctx context.Context, messageID, userID int64, emoji string) ([]feed.Reaction, error) {
	var out []feed.Reaction
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*message)(nil)).Where("id = ?", messageID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("select message: %w", err)
		}
		if !exists {
			return api.ErrNotFound
		}

		rm := &reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
		if _, err := tx.NewInsert().Model(rm).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		reactions, err := listReactions(ctx, tx, messageID)
		if err != nil {
			return err
		}
		out = reactions[messageID]
		return nil
	})
	return out, err
}

// Balance returns the energy of userID.
func (pg *Postgres) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := pg.bun.NewSelect().
		Model((*user)(nil)).
		Column("energy").
		Where("id = ?", userID).
		Scan(ctx, &balance)
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", notFound(err, api.ErrNotFound))
	}
	return balance, nil
}

// User returns the profile of userID.
func (pg *Postgres) User(ctx context.Context, userID int64) (api.User, error) {
	u := new(user)
	if err := pg.bun.NewSelect().Model(u).Where("id = ?", userID).Scan(ctx); err != nil {
		return api.User{}, fmt.Errorf("select user: %w", notFound(err, api.ErrNotFound))
	}
	return u.APIUser(), nil
}

// TouchActivity records a heartbeat of userID and reports whether the user
// is banned. Heartbeats of banned users are not recorded.
func (pg *Postgres) TouchActivity(ctx context.Context, userID int64, at time.Time) (bool, error) {
	var banned bool
	err := pg.bun.NewUpdate().
		Model((*user)(nil)).
		Set("last_activity = CASE WHEN is_banned THEN last_activity ELSE ? END", at).
		Where("id = ?", userID).
		Returning("is_banned").
		Scan(ctx, &banned)
	if err != nil {
		return false, fmt.Errorf("update activity: %w", notFound(err, api.ErrNotFound))
	}
	return banned, nil
}

// SubscribedAuthorIDs returns the users userID is subscribed to.
func (pg *Postgres) SubscribedAuthorIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := pg.bun.NewSelect().
		Model((*subscription)(nil)).
		Column("target_user_id").
		Where("user_id = ?", userID).
		Order("target_user_id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	return ids, nil
}

// Subscribe subscribes userID to targetID. Subscribing twice is a no-op.
func (pg *Postgres) Subscribe(ctx context.Context, userID, targetID int64) error {
	exists, err := pg.bun.NewSelect().Model((*user)(nil)).Where("id = ?", targetID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("select user: %w", err)
	}
	if !exists {
		return api.ErrNotFound
	}

	s := &subscription{UserID: userID, TargetUserID: targetID}
	if _, err := pg.bun.NewInsert().Model(s).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Unsubscribe removes the subscription of userID to targetID, if any.
func (pg *Postgres) Unsubscribe(ctx context.Context, userID, targetID int64) error {
	_, err := pg.bun.NewDelete().
		Model((*subscription)(nil)).
		Where("user_id = ?", userID).
		Where("target_user_id = ?", targetID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// uniqueViolation reports whether err is a Postgres unique_violation.
func uniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

// UpdateProfile changes the fields of upd that are set and returns the
// updated profile.
func (pg *Postgres) UpdateProfile(ctx context.Context, userID int64, upd api.ProfileUpdate) (api.User, error) {
	u := new(user)
	q := pg.bun.NewUpdate().Model(u).Where("id = ?", userID).Returning("*")
	if upd.Username != nil {
		q = q.Set("username = ?", *upd.Username)
	}
	if upd.StatusText != nil {
		q = q.Set("status_text = ?", *upd.StatusText)
	}
	if err := q.Scan(ctx); err != nil {
		if uniqueViolation(err) {
			return api.User{}, fmt.Errorf("update profile: %w", api.ErrConflict)
		}
		return api.User{}, fmt.Errorf("update profile: %w", notFound(err, api.ErrNotFound))
	}
	return u.APIUser(), nil
}
