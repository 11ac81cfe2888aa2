package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// typingTTL is how long a typing status survives without being renewed.
const typingTTL = 5 * time.Second

func typingKey(userID int64) string {
	return fmt.Sprintf("typing:%d", userID)
}

func formatTyping(peerID int64, at time.Time) string {
	return strconv.FormatInt(peerID, 10) + ":" + strconv.FormatInt(at.UnixNano(), 10)
}

func parseTyping(s string) (int64, time.Time, bool) {
	peer, nanos, ok := strings.Cut(s, ":")
	if !ok {
		return 0, time.Time{}, false
	}
	peerID, err := strconv.ParseInt(peer, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return peerID, time.Unix(0, n).UTC(), true
}

// SetTyping records that userID is typing to peerID. The status expires on
// its own.
func (r *Redis) SetTyping(ctx context.Context, userID, peerID int64, at time.Time) error {
	if err := r.cli.Set(ctx, typingKey(userID), formatTyping(peerID, at), typingTTL).Err(); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// Typing returns whom userID last typed to and when. ok is false if no
// status is stored.
func (r *Redis) Typing(ctx context.Context, userID int64) (peerID int64, at time.Time, ok bool, err error) {
	s, err := r.cli.Get(ctx, typingKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("get typing: %w", err)
	}
	peerID, at, ok = parseTyping(s)
	return peerID, at, ok, nil
}
