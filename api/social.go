package api

import (
	"errors"
	"net/http"

	"github.com/auxchat/auxchat-backend/energy"
)

var errEmptyUpdate = errors.New("username or status_text required")

type success struct {
	Success bool `json:"success"`
}

func (a *API) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	type response struct {
		SubscribedUserIDs []int64 `json:"subscribed_user_ids"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	ids, err := a.DB.SubscribedAuthorIDs(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list subscriptions")
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	a.respond(w, http.StatusOK, response{SubscribedUserIDs: ids})
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	targetID, ok := a.pathID(w, r, "userID")
	if !ok {
		return
	}

	err := a.DB.Subscribe(r.Context(), userID, targetID)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not subscribe")
		return
	}
	a.respond(w, http.StatusOK, success{Success: true})
}

func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	targetID, ok := a.pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := a.DB.Unsubscribe(r.Context(), userID, targetID); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not unsubscribe")
		return
	}
	a.respond(w, http.StatusOK, success{Success: true})
}

func (a *API) touchActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	banned, err := a.DB.TouchActivity(r.Context(), userID, a.Now().UTC())
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not update activity")
		return
	}
	if banned {
		a.respondError(w, http.StatusForbidden, energy.ErrAuthorBanned, energy.ErrAuthorBanned.Error())
		return
	}
	a.respond(w, http.StatusOK, success{Success: true})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	targetID, ok := a.pathID(w, r, "userID")
	if !ok {
		return
	}

	var viewerID int64
	if a.Auth != nil {
		// The profile is public; identity only unlocks the balance.
		viewerID, _ = a.Auth.UserID(r)
	}

	user, err := a.DB.User(r.Context(), targetID)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get user")
		return
	}

	if viewerID != user.ID {
		user.Energy = nil
	}
	user.Status = a.presence(user)
	a.respond(w, http.StatusOK, user)
}

// presence reports a user online while heartbeats keep coming. Banned users
// are always offline.
func (a *API) presence(u User) string {
	if !u.Banned && u.LastSeen != nil && a.Now().Sub(*u.LastSeen) < onlineWindow {
		return "online"
	}
	return "offline"
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Username   *string `json:"username" validate:"omitempty,notblank,max=50"`
		StatusText *string `json:"status_text" validate:"omitempty,max=200"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	if body.Username == nil && body.StatusText == nil {
		a.respondError(w, http.StatusBadRequest, errEmptyUpdate, codeValidation)
		return
	}

	user, err := a.DB.UpdateProfile(r.Context(), userID, ProfileUpdate{
		Username:   body.Username,
		StatusText: body.StatusText,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	case errors.Is(err, ErrConflict):
		a.respondError(w, http.StatusConflict, err, "Username is taken")
		return
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not update profile")
		return
	}

	user.Status = a.presence(user)
	a.respond(w, http.StatusOK, user)
}

func (a *API) listBlocked(w http.ResponseWriter, r *http.Request) {
	type response struct {
		BlockedUsers []BlockedUser `json:"blocked_users"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	blocked, err := a.Inbox.BlockedUsers(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list blocked users")
		return
	}
	if blocked == nil {
		blocked = []BlockedUser{}
	}
	a.respond(w, http.StatusOK, response{BlockedUsers: blocked})
}

func (a *API) block(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	targetID, ok := a.pathID(w, r, "userID")
	if !ok {
		return
	}
	if targetID == userID {
		a.respondError(w, http.StatusBadRequest, ErrForbidden, "Cannot block yourself")
		return
	}

	err := a.Inbox.Block(r.Context(), userID, targetID)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not block user")
		return
	}
	a.respond(w, http.StatusOK, success{Success: true})
}

func (a *API) unblock(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	targetID, ok := a.pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := a.Inbox.Unblock(r.Context(), userID, targetID); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not unblock user")
		return
	}
	a.respond(w, http.StatusOK, success{Success: true})
}
