package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/auxchat/auxchat-backend/api/validator"
	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
	"github.com/auxchat/auxchat-backend/metrics"
)

// A DB provides a storage layer that persists the feed and user profiles.
type DB interface {
	ListMessages(ctx context.Context, limit int, offset int, excludeMsgIDs ...int64) ([]feed.Message, error)
	InsertReaction(ctx context.Context, messageID, userID int64, emoji string) ([]feed.Reaction, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	User(ctx context.Context, userID int64) (User, error)
	TouchActivity(ctx context.Context, userID int64, at time.Time) (banned bool, err error)
	SubscribedAuthorIDs(ctx context.Context, userID int64) ([]int64, error)
	Subscribe(ctx context.Context, userID, targetID int64) error
	Unsubscribe(ctx context.Context, userID, targetID int64) error
	UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (User, error)
}

// A Cache provides a storage layer that caches the newest feed messages.
type Cache interface {
	ListMessages(ctx context.Context) ([]feed.Message, error)
	InsertMessage(ctx context.Context, msg feed.Message) error
	// SetReactions replaces the cached reactions of a message.
	SetReactions(ctx context.Context, messageID int64, reactions []feed.Reaction) error
}

// A Sender posts feed messages against the author's energy balance.
type Sender interface {
	Send(ctx context.Context, req energy.SendRequest) (energy.Receipt, error)
}

// A Wallet records energy purchases and credits them once paid.
type Wallet interface {
	CreatePurchase(ctx context.Context, p Purchase) (Purchase, error)
	// ConfirmPurchase marks the purchase paid and credits its energy. It is
	// idempotent: confirming a paid purchase credits nothing. It returns the
	// purchase and the owner's balance afterwards.
	ConfirmPurchase(ctx context.Context, purchaseID int64) (Purchase, int64, error)
}

// An Inbox stores private conversations and the block list.
type Inbox interface {
	Conversation(ctx context.Context, userID, otherID int64, limit int) ([]PrivateMessage, error)
	SendPrivate(ctx context.Context, msg PrivateMessage) (PrivateMessage, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	DeletePrivate(ctx context.Context, userID, messageID int64) error
	Block(ctx context.Context, userID, targetID int64) error
	Unblock(ctx context.Context, userID, targetID int64) error
	BlockedUsers(ctx context.Context, userID int64) ([]BlockedUser, error)
	// Conversations lists the partners of userID, latest conversation first.
	Conversations(ctx context.Context, userID int64) ([]Conversation, error)
}

// A TypingStore keeps short-lived typing statuses.
type TypingStore interface {
	SetTyping(ctx context.Context, userID, peerID int64, at time.Time) error
	Typing(ctx context.Context, userID int64) (peerID int64, at time.Time, ok bool, err error)
}

// A Pusher hands notifications to the external push delivery service.
type Pusher interface {
	Publish(ctx context.Context, ev PushEvent) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger  *slog.Logger
	DB      DB
	Cache   Cache
	Sender  Sender
	Wallet  Wallet
	Inbox   Inbox
	Pusher  Pusher
	Typing  TypingStore
	Auth    *Authenticator
	Limiter *RateLimiter
	Val     *validator.Validator
	Pricing energy.Schedule

	// WebhookSecret authenticates payment confirmations.
	WebhookSecret string
	Now           func() time.Time

	once sync.Once
	mux  *http.ServeMux
}

const (
	// defaultPageSize is the number of feed messages returned when the
	// client does not ask for a limit.
	defaultPageSize = 20
	maxPageSize     = 100

	defaultConversationSize = 100
	maxConversationSize     = 500

	// onlineWindow is how recent the last heartbeat must be for a user to
	// be shown online.
	onlineWindow = 15 * time.Second

	// typingWindow is how recent a typing status must be to be shown.
	typingWindow = 3 * time.Second

	// codeValidation is the error code of requests rejected before any
	// state was touched.
	codeValidation = "ValidationFailure"
)

func (a *API) setupRoutes() {
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.Pricing == (energy.Schedule{}) {
		a.Pricing = energy.DefaultSchedule
	}
	if a.Val == nil {
		a.Val = validator.New()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /messages", a.listMessages)
	mux.HandleFunc("POST /messages", a.createMessage)
	mux.HandleFunc("POST /messages/{messageID}/reactions", a.createReaction)

	mux.HandleFunc("GET /balance", a.getBalance)
	mux.HandleFunc("GET /energy/quote", a.getQuote)
	mux.HandleFunc("POST /energy/purchases", a.createPurchase)
	mux.HandleFunc("POST /energy/purchases/{purchaseID}/confirm", a.confirmPurchase)

	mux.HandleFunc("GET /subscriptions", a.listSubscriptions)
	mux.HandleFunc("POST /subscriptions/{userID}", a.subscribe)
	mux.HandleFunc("DELETE /subscriptions/{userID}", a.unsubscribe)

	mux.HandleFunc("POST /activity", a.touchActivity)
	mux.HandleFunc("GET /users/{userID}", a.getUser)
	mux.HandleFunc("PUT /users/me", a.updateProfile)

	mux.HandleFunc("GET /private-messages", a.listPrivateMessages)
	mux.HandleFunc("POST /private-messages", a.createPrivateMessage)
	mux.HandleFunc("GET /private-messages/unread", a.unreadCount)
	mux.HandleFunc("GET /private-messages/conversations", a.listConversations)
	mux.HandleFunc("DELETE /private-messages/{messageID}", a.deletePrivateMessage)

	mux.HandleFunc("GET /blacklist", a.listBlocked)
	mux.HandleFunc("POST /blacklist/{userID}", a.block)
	mux.HandleFunc("DELETE /blacklist/{userID}", a.unblock)

	mux.HandleFunc("GET /typing", a.getTyping)
	mux.HandleFunc("POST /typing", a.setTyping)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	a.mux.ServeHTTP(rec, r)

	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error("Error", "error", err.Error())
	} else {
		a.Logger.Info("Request rejected", "status", status, "error", err.Error())
	}
	a.respond(w, status, response{Error: msg})
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Error  string                      `json:"error"`
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Error:  codeValidation,
			Errors: errs,
		})
		return false
	}
	return true
}

// decode reads a JSON request body into dst and validates it. It writes the
// error response itself and reports whether the handler may continue.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	return a.validateBody(w, dst)
}

// userID resolves the caller. It writes a 401 and returns false if the
// request is not authenticated.
func (a *API) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if a.Auth == nil {
		a.respondError(w, http.StatusUnauthorized, ErrUnauthenticated, "Unauthorized")
		return 0, false
	}
	id, err := a.Auth.UserID(r)
	if err != nil {
		a.respondError(w, http.StatusUnauthorized, err, "Unauthorized")
		return 0, false
	}
	return id, true
}

// pathID parses a positive integer path parameter.
func (a *API) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		if err == nil {
			err = strconv.ErrRange
		}
		a.respondError(w, http.StatusBadRequest, err, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter within [min, max].
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, strconv.ErrRange
	}
	return n, nil
}
