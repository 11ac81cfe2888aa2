package api

import (
	"cmp"
	"errors"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
	"github.com/auxchat/auxchat-backend/metrics"
)

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []feed.Message `json:"messages"`
	}

	limit, err := queryInt(r, "limit", defaultPageSize, 1, maxPageSize)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid offset")
		return
	}
	radius, err := feed.ParseRadius(r.URL.Query().Get("radius"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid radius")
		return
	}
	viewer, err := a.viewerLocation(r)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid location")
		return
	}

	// The cache only holds the newest messages, so it can serve the first
	// page only.
	var msgs []feed.Message
	if offset == 0 && a.Cache != nil {
		msgs, err = a.Cache.ListMessages(r.Context())
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
			return
		}
		if len(msgs) > limit {
			msgs = msgs[:limit]
		}
		a.Logger.Info("Got messages from cache", "count", len(msgs))
	}

	if rest := limit - len(msgs); rest > 0 {
		msgIDs := make([]int64, len(msgs))
		for i, msg := range msgs {
			msgIDs[i] = msg.ID
		}

		dbMsgs, err := a.DB.ListMessages(r.Context(), rest, offset, msgIDs...)
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
			return
		}
		a.Logger.Info("Got remaining messages from DB", "count", len(dbMsgs))
		msgs = append(msgs, dbMsgs...)
	}

	slices.SortFunc(msgs, func(x, y feed.Message) int { return cmp.Compare(x.ID, y.ID) })
	msgs = feed.Visible(msgs, viewer, radius)
	if msgs == nil {
		msgs = []feed.Message{}
	}

	a.respond(w, http.StatusOK, response{Messages: msgs})
}

// viewerLocation reads the optional lat and lon query parameters. Either
// both or none must be present.
func (a *API) viewerLocation(r *http.Request) (*feed.Point, error) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if errs := a.Val.Validate(latStr, "required,latitude"); len(errs) > 0 {
		return nil, errors.New("lat: " + errs[0].Message)
	}
	if errs := a.Val.Validate(lonStr, "required,longitude"); len(errs) > 0 {
		return nil, errors.New("lon: " + errs[0].Message)
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, err
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, err
	}
	return &feed.Point{Lat: lat, Lon: lon}, nil
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Text           string   `json:"text" validate:"required,notblank,max=2000"`
			IdempotencyKey string   `json:"idempotency_key" validate:"omitempty,max=64"`
			Lat            *float64 `json:"lat" validate:"required_with=Lon,omitempty,latitude"`
			Lon            *float64 `json:"lon" validate:"required_with=Lat,omitempty,longitude"`
		}
		response struct {
			ID        int64    `json:"id"`
			Text      string   `json:"text"`
			UserID    int64    `json:"user_id"`
			CreatedAt string   `json:"created_at"`
			Energy    int64    `json:"energy"`
			Lat       *float64 `json:"lat"`
			Lon       *float64 `json:"lon"`
		}
	)

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	if body.IdempotencyKey == "" {
		body.IdempotencyKey = r.Header.Get("Idempotency-Key")
		if errs := a.Val.Validate(body.IdempotencyKey, "max=64"); len(errs) > 0 {
			a.respondError(w, http.StatusBadRequest, errors.New(errs[0].Message), codeValidation)
			return
		}
	}

	if a.Limiter != nil && !a.Limiter.Allow(userID) {
		a.respondError(w, http.StatusTooManyRequests, errRateLimited, "Too many messages")
		return
	}

	receipt, err := a.Sender.Send(r.Context(), energy.SendRequest{
		AuthorID:       userID,
		Text:           body.Text,
		Origin:         feed.PointOf(body.Lat, body.Lon),
		IdempotencyKey: body.IdempotencyKey,
	})
	switch {
	case errors.Is(err, energy.ErrInsufficientEnergy):
		metrics.ObserveSend(metrics.SendInsufficientEnergy)
		a.respondError(w, http.StatusPaymentRequired, err, energy.ErrInsufficientEnergy.Error())
		return
	case errors.Is(err, energy.ErrAuthorBanned):
		metrics.ObserveSend(metrics.SendAuthorBanned)
		a.respondError(w, http.StatusForbidden, err, energy.ErrAuthorBanned.Error())
		return
	case errors.Is(err, energy.ErrAccountNotFound):
		metrics.ObserveSend(metrics.SendFailed)
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	case err != nil:
		metrics.ObserveSend(metrics.SendFailed)
		a.respondError(w, http.StatusInternalServerError, err, "Could not send message")
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
		metrics.ObserveSend(metrics.SendReplayed)
	} else {
		metrics.ObserveSend(metrics.SendOK)
		if a.Cache != nil {
			if err := a.Cache.InsertMessage(r.Context(), receipt.Message); err != nil {
				a.Logger.Error("Could not cache message", "error", err.Error())
			}
		}
	}

	msg := receipt.Message
	a.respond(w, status, response{
		ID:        msg.ID,
		Text:      msg.Text,
		UserID:    msg.UserID,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		Energy:    receipt.Energy,
		Lat:       msg.Lat,
		Lon:       msg.Lon,
	})
}

func (a *API) createReaction(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Emoji string `json:"emoji" validate:"required,notblank,max=32"`
		}
		response struct {
			MessageID int64           `json:"message_id"`
			Reactions []feed.Reaction `json:"reactions"`
		}
	)

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	messageID, ok := a.pathID(w, r, "messageID")
	if !ok {
		return
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}

	reactions, err := a.DB.InsertReaction(r.Context(), messageID, userID, body.Emoji)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "Message not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not create reaction for message with id "+strconv.FormatInt(messageID, 10))
		return
	}

	if reactions == nil {
		reactions = []feed.Reaction{}
	}
	if a.Cache != nil {
		if err := a.Cache.SetReactions(r.Context(), messageID, reactions); err != nil {
			a.Logger.Error("Could not cache reactions", "error", err.Error())
		}
	}
	a.respond(w, http.StatusCreated, response{
		MessageID: messageID,
		Reactions: reactions,
	})
}
