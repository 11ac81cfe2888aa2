package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/auxchat/auxchat-backend/feed"
)

// Redis provides caching in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	messagePrefix = "messages"
	maxSize       = 10
)

func messageKey(id int64) string {
	return fmt.Sprintf("%s:%d", messagePrefix, id)
}

func reactionsKey(id int64) string {
	return messageKey(id) + ":reactions"
}

// ListMessages returns the cached messages, newest first. Messages are
// scored by id, which grows with every insert.
func (r *Redis) ListMessages(ctx context.Context) ([]feed.Message, error) {
	keys, err := r.cli.ZRevRange(ctx, messagePrefix, 0, maxSize-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	msgCmds := make([]*redis.MapStringStringCmd, len(keys))
	reactionCmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = r.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			msgCmds[i] = pipe.HGetAll(ctx, key)
			reactionCmds[i] = pipe.HGetAll(ctx, key+":reactions")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}

	out := make([]feed.Message, 0, len(keys))
	for i := range keys {
		// Evicted between the range and the reads.
		if len(msgCmds[i].Val()) == 0 {
			continue
		}
		var msg message
		if err := msgCmds[i].Scan(&msg); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg.FeedMessage(reactionCmds[i].Val()))
	}

	return out, nil
}

// InsertMessage adds the message to Redis with the messages:MESSAGE_ID as the
// key and adds the key to a sorted set.
func (r *Redis) InsertMessage(ctx context.Context, msg feed.Message) error {
	m := newMessage(msg)
	key := messageKey(msg.ID)

	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, m)
			pipe.Del(ctx, reactionsKey(msg.ID))
			if fields := reactionFields(msg.Reactions); len(fields) > 0 {
				pipe.HSet(ctx, reactionsKey(msg.ID), fields...)
			}
			pipe.ZAdd(ctx, messagePrefix, redis.Z{
				Score:  float64(msg.ID),
				Member: key,
			})

			return nil
		})
		return err
	}, key)

	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	// Simulate an eviction strategy by removing the oldest key in case the max cache size is exceeded.
	err = r.evictOldest(ctx)
	if err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// SetReactions replaces the cached reactions of a message with the given
// aggregate. Messages that are not cached are left alone.
func (r *Redis) SetReactions(ctx context.Context, messageID int64, reactions []feed.Reaction) error {
	key := messageKey(messageID)
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, reactionsKey(messageID))
			if fields := reactionFields(reactions); len(fields) > 0 {
				pipe.HSet(ctx, reactionsKey(messageID), fields...)
			}
			return nil
		})
		return err
	}, key)

	if err != nil {
		return fmt.Errorf("could not set reactions: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context) error {
	vals, err := r.cli.ZRange(ctx, messagePrefix, 0, int64(-maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, key := range vals {
		_ = r.cli.ZRem(ctx, messagePrefix, key).Err()
		_ = r.cli.Del(ctx, key, key+":reactions").Err()
	}

	return nil
}
