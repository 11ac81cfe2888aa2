package api

import (
	"errors"
	"net/http"
	"strconv"
)

// previewRunes bounds the message preview shown in a push notification.
const previewRunes = 50

func (a *API) listPrivateMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []PrivateMessage `json:"messages"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	otherID, err := strconv.ParseInt(r.URL.Query().Get("other_user_id"), 10, 64)
	if err != nil || otherID <= 0 {
		if err == nil {
			err = strconv.ErrRange
		}
		a.respondError(w, http.StatusBadRequest, err, "Invalid other_user_id")
		return
	}
	limit, err := queryInt(r, "limit", defaultConversationSize, 1, maxConversationSize)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid limit")
		return
	}

	msgs, err := a.Inbox.Conversation(r.Context(), userID, otherID, limit)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list private messages")
		return
	}
	if msgs == nil {
		msgs = []PrivateMessage{}
	}
	a.respond(w, http.StatusOK, response{Messages: msgs})
}

func (a *API) createPrivateMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ReceiverID int64  `json:"receiver_id" validate:"required,gt=0"`
		Text       string `json:"text" validate:"required,notblank,max=2000"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	if body.ReceiverID == userID {
		a.respondError(w, http.StatusBadRequest, ErrForbidden, "Cannot message yourself")
		return
	}

	msg, err := a.Inbox.SendPrivate(r.Context(), PrivateMessage{
		SenderID:   userID,
		ReceiverID: body.ReceiverID,
		Text:       body.Text,
		CreatedAt:  a.Now().UTC(),
	})
	switch {
	case errors.Is(err, ErrBlocked):
		a.respondError(w, http.StatusForbidden, err, "User is blocked")
		return
	case errors.Is(err, ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not send private message")
		return
	}

	if a.Pusher != nil {
		if err := a.Pusher.Publish(r.Context(), pushFor(msg)); err != nil {
			a.Logger.Error("Could not publish push notification", "error", err.Error(), "receiver_id", msg.ReceiverID)
		}
	}

	a.respond(w, http.StatusCreated, msg)
}

func pushFor(msg PrivateMessage) PushEvent {
	return PushEvent{
		RecipientID: msg.ReceiverID,
		Title:       "💬 " + msg.SenderName,
		Body:        preview(msg.Text, previewRunes),
		Data: map[string]string{
			"chatUrl":  "/chat/" + strconv.FormatInt(msg.SenderID, 10),
			"senderId": strconv.FormatInt(msg.SenderID, 10),
		},
	}
}

// preview cuts s to n runes and marks the cut with an ellipsis.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Conversations []Conversation `json:"conversations"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	convs, err := a.Inbox.Conversations(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list conversations")
		return
	}
	if convs == nil {
		convs = []Conversation{}
	}
	a.respond(w, http.StatusOK, response{Conversations: convs})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Count int `json:"count"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	count, err := a.Inbox.UnreadCount(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not count unread messages")
		return
	}
	a.respond(w, http.StatusOK, response{Count: count})
}

func (a *API) deletePrivateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	messageID, ok := a.pathID(w, r, "messageID")
	if !ok {
		return
	}

	err := a.Inbox.DeletePrivate(r.Context(), userID, messageID)
	switch {
	case errors.Is(err, ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "Message not found")
		return
	case errors.Is(err, ErrForbidden):
		a.respondError(w, http.StatusForbidden, err, "Cannot delete another user's message")
		return
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not delete message")
		return
	}
	a.respond(w, http.StatusOK, success{Success: true})
}
