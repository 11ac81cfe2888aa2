package feed

// SubscriptionSet is the set of author ids a viewer wants to be notified
// about.
type SubscriptionSet map[int64]struct{}

// NewSubscriptionSet returns a set holding ids.
func NewSubscriptionSet(ids ...int64) SubscriptionSet {
	s := make(SubscriptionSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s SubscriptionSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Notifier classifies newly fetched feed messages for one viewer. It keeps
// the notification cursor: the highest message id already accounted for.
//
// A Notifier is not safe for concurrent use.
type Notifier struct {
	viewerID int64
	subs     SubscriptionSet
	cursor   int64
	seeded   bool
	badge    int
}

// NewNotifier returns a Notifier with an uninitialized cursor.
func NewNotifier(viewerID int64, subs SubscriptionSet) *Notifier {
	n := &Notifier{viewerID: viewerID}
	n.SetSubscriptions(subs)
	return n
}

// SetSubscriptions replaces the subscription set. The set is copied.
func (n *Notifier) SetSubscriptions(subs SubscriptionSet) {
	cp := make(SubscriptionSet, len(subs))
	for id := range subs {
		cp[id] = struct{}{}
	}
	n.subs = cp
}

// Tick accounts for one polling cycle and returns how many of the fetched
// messages are new posts by subscribed authors. The first tick only seeds
// the cursor and never reports anything. The cursor never moves backwards.
func (n *Notifier) Tick(fetched []Message) int {
	maxID := n.cursor
	for _, m := range fetched {
		if m.ID > maxID {
			maxID = m.ID
		}
	}

	if !n.seeded {
		n.seeded = true
		n.cursor = maxID
		return 0
	}

	count := 0
	for _, m := range fetched {
		if m.ID <= n.cursor {
			continue
		}
		if m.UserID == n.viewerID || !n.subs.Has(m.UserID) {
			continue
		}
		count++
	}
	n.cursor = maxID
	n.badge += count
	return count
}

// Cursor returns the last seen message id and whether it was initialized.
func (n *Notifier) Cursor() (int64, bool) {
	return n.cursor, n.seeded
}

// Badge returns the number of subscribed-author messages not yet cleared.
func (n *Notifier) Badge() int {
	return n.badge
}

// ClearBadge resets the badge counter. The cursor is unaffected.
func (n *Notifier) ClearBadge() {
	n.badge = 0
}

// UnreadWatermark tracks the private-message unread total between polls.
// The zero value is uninitialized.
type UnreadWatermark struct {
	value  int
	seeded bool
}

// Observe records the current unread total. It reports true when the total
// strictly increased since the previous observation; the first observation
// only seeds the watermark. A lower total (messages were read) moves the
// watermark down silently.
func (w *UnreadWatermark) Observe(total int) bool {
	if !w.seeded {
		w.seeded = true
		w.value = total
		return false
	}
	increased := total > w.value
	w.value = total
	return increased
}

// Value returns the last observed total.
func (w *UnreadWatermark) Value() int {
	return w.value
}
