// Package feed holds the viewer-side rules of the public feed: geo-radius
// visibility, subscribed-author notifications and the unread watermark.
package feed

// Within reports whether m is visible to a viewer at viewer with the given
// radius. A nil viewer or an unlimited radius sees everything; otherwise a
// message without an origin is not visible.
func Within(m Message, viewer *Point, radius Radius) bool {
	if viewer == nil || radius.IsUnlimited() {
		return true
	}
	origin, ok := m.Origin()
	if !ok {
		return false
	}
	return Distance(*viewer, origin) <= float64(radius)
}

// Visible returns the subsequence of msgs visible to the viewer. The input
// order is kept and msgs is never modified.
func Visible(msgs []Message, viewer *Point, radius Radius) []Message {
	if viewer == nil || radius.IsUnlimited() {
		return msgs
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if Within(m, viewer, radius) {
			out = append(out, m)
		}
	}
	return out
}
