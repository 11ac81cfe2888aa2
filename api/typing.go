package api

import (
	"errors"
	"net/http"
	"strconv"
)

var errTypingUnavailable = errors.New("no typing store configured")

func (a *API) setTyping(w http.ResponseWriter, r *http.Request) {
	type request struct {
		TypingTo int64 `json:"typing_to" validate:"required,gt=0"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	if a.Typing == nil {
		a.respondError(w, http.StatusServiceUnavailable, errTypingUnavailable, "Typing status unavailable")
		return
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}

	if err := a.Typing.SetTyping(r.Context(), userID, body.TypingTo, a.Now().UTC()); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not set typing status")
		return
	}
	a.respond(w, http.StatusOK, success{Success: true})
}

// getTyping reports whether user_id is typing to the caller right now.
func (a *API) getTyping(w http.ResponseWriter, r *http.Request) {
	type response struct {
		IsTyping bool   `json:"is_typing"`
		TypingTo *int64 `json:"typing_to"`
	}

	viewerID, ok := a.userID(w, r)
	if !ok {
		return
	}
	if a.Typing == nil {
		a.respondError(w, http.StatusServiceUnavailable, errTypingUnavailable, "Typing status unavailable")
		return
	}
	otherID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || otherID <= 0 {
		if err == nil {
			err = strconv.ErrRange
		}
		a.respondError(w, http.StatusBadRequest, err, "Invalid user_id")
		return
	}

	peerID, at, found, err := a.Typing.Typing(r.Context(), otherID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get typing status")
		return
	}

	var resp response
	if found && peerID == viewerID && a.Now().Sub(at) < typingWindow {
		resp.IsTyping = true
		resp.TypingTo = &peerID
	}
	a.respond(w, http.StatusOK, resp)
}
