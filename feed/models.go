package feed

import "time"

// A Message represents a message posted to the public feed.
type Message struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"created_at"`
	Lat       *float64   `json:"lat"`
	Lon       *float64   `json:"lon"`
	Reactions []Reaction `json:"reactions"`
}

// Origin returns the location the message was posted from, if known.
func (m Message) Origin() (Point, bool) {
	if m.Lat == nil || m.Lon == nil {
		return Point{}, false
	}
	return Point{Lat: *m.Lat, Lon: *m.Lon}, true
}

// A Reaction is one entry of a message's reaction multiset.
type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}
