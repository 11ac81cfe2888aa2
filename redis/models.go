package redis

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"github.com/auxchat/auxchat-backend/feed"
)

// A message is the cached hash of a feed message. Coordinates are stored
// as strings so that a missing origin stays distinguishable from 0,0.
type message struct {
	ID        int64  `redis:"id"`
	Text      string `redis:"text"`
	UserID    int64  `redis:"user_id"`
	CreatedAt int64  `redis:"created_at"`
	Lat       string `redis:"lat"`
	Lon       string `redis:"lon"`
}

func newMessage(m feed.Message) message {
	return message{
		ID:        m.ID,
		Text:      m.Text,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt.UnixNano(),
		Lat:       formatCoord(m.Lat),
		Lon:       formatCoord(m.Lon),
	}
}

func (m message) FeedMessage(reactions map[string]string) feed.Message {
	out := feed.Message{
		ID:        m.ID,
		Text:      m.Text,
		UserID:    m.UserID,
		CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
		Reactions: parseReactions(reactions),
	}
	lat, latOK := parseCoord(m.Lat)
	lon, lonOK := parseCoord(m.Lon)
	if latOK && lonOK {
		out.Lat, out.Lon = &lat, &lon
	}
	return out
}

func formatCoord(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func parseCoord(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// parseReactions turns an emoji to count hash into reactions, most used
// first.
func parseReactions(h map[string]string) []feed.Reaction {
	out := make([]feed.Reaction, 0, len(h))
	for emoji, s := range h {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, feed.Reaction{Emoji: emoji, Count: n})
	}
	slices.SortFunc(out, func(a, b feed.Reaction) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Emoji, b.Emoji)
	})
	return out
}

// reactionFields flattens reactions into HSET field value pairs.
func reactionFields(reactions []feed.Reaction) []any {
	out := make([]any, 0, 2*len(reactions))
	for _, rc := range reactions {
		if rc.Count <= 0 {
			continue
		}
		out = append(out, rc.Emoji, rc.Count)
	}
	return out
}
