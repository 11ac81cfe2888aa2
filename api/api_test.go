package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/auxchat/auxchat-backend/api/validator"
	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestAPI_listMessages(t *testing.T) {
	moscow := feed.Message{ID: 1, UserID: 2, Text: "Moscow", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Lat: ptr(55.7558), Lon: ptr(37.6173), Reactions: []feed.Reaction{{Emoji: "🔥", Count: 2}}}
	spb := feed.Message{ID: 2, UserID: 3, Text: "SPb", CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Lat: ptr(59.9343), Lon: ptr(30.3351), Reactions: []feed.Reaction{}}
	nowhere := feed.Message{ID: 3, UserID: 3, Text: "Nowhere", CreatedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Reactions: []feed.Reaction{}}

	tests := []struct {
		name       string
		query      string
		db         *testdb
		cache      *testcache
		wantStatus int
		wantBody   string
	}{
		{
			name: "DBError",
			cache: &testcache{
				listMessages: func(t *testing.T) ([]feed.Message, error) {
					return nil, nil
				},
			},
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...int64) ([]feed.Message, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not list messages"
			}`,
		},
		{
			name: "CacheError",
			cache: &testcache{
				listMessages: func(t *testing.T) ([]feed.Message, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not list messages"
			}`,
		},
		{
			name: "Empty",
			cache: &testcache{
				listMessages: func(t *testing.T) ([]feed.Message, error) {
					return nil, nil
				},
			},
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...int64) ([]feed.Message, error) {
					if limit != 20 || offset != 0 {
						t.Errorf("Got limit %d offset %d, want 20 and 0", limit, offset)
					}
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": []
			}`,
		},
		{
			name: "Mixed",
			cache: &testcache{
				listMessages: func(t *testing.T) ([]feed.Message, error) {
					return []feed.Message{spb}, nil
				},
			},
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...int64) ([]feed.Message, error) {
					if diff := cmp.Diff([]int64{2}, excludeMsgIDs); diff != "" {
						t.Errorf("excluded ids mismatch (-want +got):\n%s", diff)
					}
					if limit != 19 {
						t.Errorf("Got limit %d, want 19", limit)
					}
					return []feed.Message{moscow}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": [
					{
						"id": 1,
						"user_id": 2,
						"text": "Moscow",
						"created_at": "2024-01-01T00:00:00Z",
						"lat": 55.7558,
						"lon": 37.6173,
						"reactions": [{"emoji": "🔥", "count": 2}]
					},
					{
						"id": 2,
						"user_id": 3,
						"text": "SPb",
						"created_at": "2024-01-02T00:00:00Z",
						"lat": 59.9343,
						"lon": 30.3351,
						"reactions": []
					}
				]
			}`,
		},
		{
			name:  "WithinRadius",
			query: "?radius=100&lat=55.75&lon=37.62",
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...int64) ([]feed.Message, error) {
					return []feed.Message{nowhere, spb, moscow}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": [
					{
						"id": 1,
						"user_id": 2,
						"text": "Moscow",
						"created_at": "2024-01-01T00:00:00Z",
						"lat": 55.7558,
						"lon": 37.6173,
						"reactions": [{"emoji": "🔥", "count": 2}]
					}
				]
			}`,
		},
		{
			name:  "UnlimitedRadius",
			query: "?radius=unlimited&lat=55.75&lon=37.62&offset=20",
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...int64) ([]feed.Message, error) {
					if offset != 20 {
						t.Errorf("Got offset %d, want 20", offset)
					}
					return []feed.Message{nowhere}, nil
				},
			},
			cache: &testcache{
				listMessages: func(t *testing.T) ([]feed.Message, error) {
					t.Error("cache must not serve later pages")
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": [
					{
						"id": 3,
						"user_id": 3,
						"text": "Nowhere",
						"created_at": "2024-01-03T00:00:00Z",
						"lat": null,
						"lon": null,
						"reactions": []
					}
				]
			}`,
		},
		{
			name:       "InvalidRadius",
			query:      "?radius=0",
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid radius"
			}`,
		},
		{
			name:       "HalfLocation",
			query:      "?lat=55.75",
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid location"
			}`,
		},
		{
			name:       "LimitTooLarge",
			query:      "?limit=1000",
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid limit"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db == nil {
				tt.db = &testdb{}
			}
			tt.db.T = t
			api := &API{
				DB:     tt.db,
				Logger: slogt.New(t),
			}
			if tt.cache != nil {
				tt.cache.T = t
				api.Cache = tt.cache
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			req, _ := http.NewRequest("GET", srv.URL+"/messages"+tt.query, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_createMessage(t *testing.T) {
	sent := feed.Message{
		ID:        7,
		UserID:    1,
		Text:      "hello",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Lat:       ptr(55.75),
		Lon:       ptr(37.62),
		Reactions: []feed.Reaction{},
	}

	tests := []struct {
		name        string
		header      http.Header
		req         string
		sender      *testsender
		cache       *testcache
		wantStatus  int
		wantBody    string
		containsLog string
	}{
		{
			name:       "Unauthenticated",
			header:     http.Header{},
			req:        `{"text": "hello"}`,
			wantStatus: 401,
			wantBody: `{
				"error": "Unauthorized"
			}`,
		},
		{
			name:       "InvalidJSON",
			req:        `not json`,
			wantStatus: 400,
			wantBody: `{
				"error": "Could not decode request body"
			}`,
		},
		{
			name: "InsufficientEnergy",
			req:  `{"text": "hello"}`,
			sender: &testsender{
				send: func(t *testing.T, req energy.SendRequest) (energy.Receipt, error) {
					return energy.Receipt{}, energy.ErrInsufficientEnergy
				},
			},
			wantStatus: 402,
			wantBody: `{
				"error": "InsufficientEnergy"
			}`,
		},
		{
			name: "AuthorBanned",
			req:  `{"text": "hello"}`,
			sender: &testsender{
				send: func(t *testing.T, req energy.SendRequest) (energy.Receipt, error) {
					return energy.Receipt{}, energy.ErrAuthorBanned
				},
			},
			wantStatus: 403,
			wantBody: `{
				"error": "AuthorBanned"
			}`,
		},
		{
			name: "SenderError",
			req:  `{"text": "hello"}`,
			sender: &testsender{
				send: func(t *testing.T, req energy.SendRequest) (energy.Receipt, error) {
					return energy.Receipt{}, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not send message"
			}`,
		},
		{
			name: "CacheError",
			req:  `{"text": "hello"}`,
			sender: &testsender{
				send: func(t *testing.T, req energy.SendRequest) (energy.Receipt, error) {
					return energy.Receipt{Message: sent, Energy: 4}, nil
				},
			},
			cache: &testcache{
				insertMessage: func(t *testing.T, msg feed.Message) error {
					return errors.New("something went wrong")
				},
			},
			wantStatus: 201,
			wantBody: `{
				"id": 7,
				"text": "hello",
				"user_id": 1,
				"created_at": "2024-01-01T00:00:00Z",
				"energy": 4,
				"lat": 55.75,
				"lon": 37.62
			}`,
			containsLog: "Could not cache message",
		},
		{
			name:   "OK",
			header: http.Header{"X-User-Id": {"1"}, "Idempotency-Key": {"abc"}},
			req:    `{"text": "hello", "lat": 55.75, "lon": 37.62}`,
			sender: &testsender{
				send: func(t *testing.T, req energy.SendRequest) (energy.Receipt, error) {
					want := energy.SendRequest{
						AuthorID:       1,
						Text:           "hello",
						Origin:         &feed.Point{Lat: 55.75, Lon: 37.62},
						IdempotencyKey: "abc",
					}
					if diff := cmp.Diff(want, req); diff != "" {
						t.Errorf("send request mismatch (-want +got):\n%s", diff)
					}
					return energy.Receipt{Message: sent, Energy: 4}, nil
				},
			},
			cache: &testcache{
				insertMessage: func(t *testing.T, msg feed.Message) error {
					if msg.ID != 7 {
						t.Errorf("Got cached message %d, want 7", msg.ID)
					}
					return nil
				},
			},
			wantStatus: 201,
			wantBody: `{
				"id": 7,
				"text": "hello",
				"user_id": 1,
				"created_at": "2024-01-01T00:00:00Z",
				"energy": 4,
				"lat": 55.75,
				"lon": 37.62
			}`,
		},
		{
			name: "Replayed",
			req:  `{"text": "hello", "idempotency_key": "abc"}`,
			sender: &testsender{
				send: func(t *testing.T, req energy.SendRequest) (energy.Receipt, error) {
					if req.IdempotencyKey != "abc" {
						t.Errorf("Got idempotency key %q, want abc", req.IdempotencyKey)
					}
					return energy.Receipt{Message: sent, Energy: 4, Replayed: true}, nil
				},
			},
			cache: &testcache{
				insertMessage: func(t *testing.T, msg feed.Message) error {
					t.Error("replayed message cached again")
					return nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": 7,
				"text": "hello",
				"user_id": 1,
				"created_at": "2024-01-01T00:00:00Z",
				"energy": 4,
				"lat": 55.75,
				"lon": 37.62
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if tt.sender == nil {
				tt.sender = &testsender{}
			}
			tt.sender.T = t
			api := &API{
				Sender: tt.sender,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
				Auth:   &Authenticator{TrustUserIDHeader: true},
				Val:    validator.New(),
			}
			if tt.cache != nil {
				tt.cache.T = t
				api.Cache = tt.cache
			}
			header := tt.header
			if header == nil {
				header = http.Header{"X-User-Id": {"1"}}
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp := doRequest(t, "POST", srv.URL+"/messages", header, tt.req)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
			checkLog(t, buf, tt.containsLog)
		})
	}
}

func TestAPI_createMessageValidation(t *testing.T) {
	tests := []struct {
		name       string
		req        string
		wantFields []string
	}{
		{name: "MissingText", req: `{}`, wantFields: []string{"text"}},
		{name: "BlankText", req: `{"text": "  \n "}`, wantFields: []string{"text"}},
		{name: "HalfOrigin", req: `{"text": "hi", "lat": 10}`, wantFields: []string{"lon"}},
		{name: "OriginOutOfRange", req: `{"text": "hi", "lat": 10, "lon": 200}`, wantFields: []string{"lon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &API{
				Sender: &testsender{T: t},
				Logger: slogt.New(t),
				Auth:   &Authenticator{TrustUserIDHeader: true},
			}
			srv := httptest.NewServer(api)
			defer srv.Close()

			resp := doRequest(t, "POST", srv.URL+"/messages", http.Header{"X-User-Id": {"1"}}, tt.req)
			checkStatus(t, resp.StatusCode, 400)
			checkValidation(t, resp, tt.wantFields)
		})
	}
}

func TestAPI_createMessageRateLimited(t *testing.T) {
	sends := 0
	api := &API{
		Sender: &testsender{
			T: t,
			send: func(t *testing.T, req energy.SendRequest) (energy.Receipt, error) {
				sends++
				return energy.Receipt{Message: feed.Message{ID: int64(sends), UserID: req.AuthorID}}, nil
			},
		},
		Logger:  slogt.New(t),
		Auth:    &Authenticator{TrustUserIDHeader: true},
		Limiter: NewRateLimiter(0.001, 1),
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	resp := doRequest(t, "POST", srv.URL+"/messages", http.Header{"X-User-Id": {"1"}}, `{"text": "one"}`)
	checkStatus(t, resp.StatusCode, 201)
	resp = doRequest(t, "POST", srv.URL+"/messages", http.Header{"X-User-Id": {"1"}}, `{"text": "two"}`)
	checkStatus(t, resp.StatusCode, 429)
	checkBody(t, resp, `{"error": "Too many messages"}`)
	// Other users have their own bucket.
	resp = doRequest(t, "POST", srv.URL+"/messages", http.Header{"X-User-Id": {"2"}}, `{"text": "three"}`)
	checkStatus(t, resp.StatusCode, 201)

	if sends != 2 {
		t.Errorf("Got %d sends, want 2", sends)
	}
}

func TestAPI_createReaction(t *testing.T) {
	tests := []struct {
		name       string
		messageID  string
		req        string
		db         *testdb
		cache      *testcache
		wantStatus int
		wantBody   string
	}{
		{
			name:      "OK",
			messageID: "7",
			req:       `{"emoji": "👍"}`,
			db: &testdb{
				insertReaction: func(t *testing.T, messageID, userID int64, emoji string) ([]feed.Reaction, error) {
					if messageID != 7 || userID != 1 || emoji != "👍" {
						t.Errorf("Got reaction (%d, %d, %q)", messageID, userID, emoji)
					}
					return []feed.Reaction{{Emoji: "👍", Count: 3}, {Emoji: "🔥", Count: 1}}, nil
				},
			},
			cache: &testcache{
				setReactions: func(t *testing.T, messageID int64, reactions []feed.Reaction) error {
					want := []feed.Reaction{{Emoji: "👍", Count: 3}, {Emoji: "🔥", Count: 1}}
					if messageID != 7 {
						t.Errorf("Got cached reactions of message %d, want 7", messageID)
					}
					if diff := cmp.Diff(want, reactions); diff != "" {
						t.Errorf("cached reactions mismatch (-want +got):\n%s", diff)
					}
					return nil
				},
			},
			wantStatus: 201,
			wantBody: `{
				"message_id": 7,
				"reactions": [
					{"emoji": "👍", "count": 3},
					{"emoji": "🔥", "count": 1}
				]
			}`,
		},
		{
			name:      "MessageNotFound",
			messageID: "8",
			req:       `{"emoji": "👍"}`,
			db: &testdb{
				insertReaction: func(t *testing.T, messageID, userID int64, emoji string) ([]feed.Reaction, error) {
					return nil, ErrNotFound
				},
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Message not found"
			}`,
		},
		{
			name:       "InvalidMessageID",
			messageID:  "abc",
			req:        `{"emoji": "👍"}`,
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid messageID"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db == nil {
				tt.db = &testdb{}
			}
			tt.db.T = t
			if tt.cache == nil {
				tt.cache = &testcache{}
			}
			tt.cache.T = t
			api := &API{
				DB:     tt.db,
				Cache:  tt.cache,
				Logger: slogt.New(t),
				Auth:   &Authenticator{TrustUserIDHeader: true},
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp := doRequest(t, "POST", srv.URL+"/messages/"+tt.messageID+"/reactions", http.Header{"X-User-Id": {"1"}}, tt.req)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_repeatedReactionKeepsCacheInSync(t *testing.T) {
	cached := feed.Message{ID: 7, UserID: 2, Text: "hi", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Reactions: []feed.Reaction{}}
	// One reaction per user and emoji, like the reactions table.
	likes := map[int64]bool{}

	api := &API{
		DB: &testdb{
			T: t,
			insertReaction: func(t *testing.T, messageID, userID int64, emoji string) ([]feed.Reaction, error) {
				likes[userID] = true
				return []feed.Reaction{{Emoji: "👍", Count: len(likes)}}, nil
			},
		},
		Cache: &testcache{
			T: t,
			listMessages: func(t *testing.T) ([]feed.Message, error) {
				return []feed.Message{cached}, nil
			},
			setReactions: func(t *testing.T, messageID int64, reactions []feed.Reaction) error {
				cached.Reactions = reactions
				return nil
			},
		},
		Logger: slogt.New(t),
		Auth:   &Authenticator{TrustUserIDHeader: true},
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	for _, user := range []string{"1", "1", "1", "3"} {
		resp := doRequest(t, "POST", srv.URL+"/messages/7/reactions", http.Header{"X-User-Id": {user}}, `{"emoji": "👍"}`)
		checkStatus(t, resp.StatusCode, 201)
	}

	resp := doRequest(t, "GET", srv.URL+"/messages?limit=1", nil, "")
	checkStatus(t, resp.StatusCode, 200)
	checkBody(t, resp, `{
		"messages": [{
			"id": 7,
			"user_id": 2,
			"text": "hi",
			"created_at": "2024-01-01T00:00:00Z",
			"lat": null,
			"lon": null,
			"reactions": [{"emoji": "👍", "count": 2}]
		}]
	}`)
}

func TestAPI_energy(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		header     http.Header
		req        string
		db         *testdb
		wallet     *testwallet
		wantStatus int
		wantBody   string
	}{
		{
			name:   "Balance",
			method: "GET",
			path:   "/balance",
			db: &testdb{
				balance: func(t *testing.T, userID int64) (int64, error) {
					return 42, nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"energy": 42}`,
		},
		{
			name:   "BalanceUnknownUser",
			method: "GET",
			path:   "/balance",
			db: &testdb{
				balance: func(t *testing.T, userID int64) (int64, error) {
					return 0, ErrNotFound
				},
			},
			wantStatus: 404,
			wantBody:   `{"error": "User not found"}`,
		},
		{
			name:       "Quote",
			method:     "GET",
			path:       "/energy/quote?amount=5250",
			wantStatus: 200,
			wantBody:   `{"amount_paid": 5250, "energy": 6037, "discount": 15}`,
		},
		{
			name:       "QuoteBelowFloor",
			method:     "GET",
			path:       "/energy/quote?amount=499",
			wantStatus: 400,
			wantBody:   `{"error": "ValidationFailure"}`,
		},
		{
			name:       "QuoteNotANumber",
			method:     "GET",
			path:       "/energy/quote?amount=lots",
			wantStatus: 400,
			wantBody:   `{"error": "ValidationFailure"}`,
		},
		{
			name:   "Purchase",
			method: "POST",
			path:   "/energy/purchases",
			req:    `{"amount": 10000, "method": "sberPay"}`,
			wallet: &testwallet{
				createPurchase: func(t *testing.T, p Purchase) (Purchase, error) {
					want := Purchase{
						UserID:     1,
						AmountPaid: 10000,
						Energy:     13000,
						Discount:   30,
						Method:     energy.MethodSberPay,
						Status:     PurchasePending,
						CreatedAt:  testNow,
					}
					if diff := cmp.Diff(want, p); diff != "" {
						t.Errorf("purchase mismatch (-want +got):\n%s", diff)
					}
					p.ID = 9
					return p, nil
				},
			},
			wantStatus: 201,
			wantBody: `{
				"purchase_id": 9,
				"user_id": 1,
				"amount_paid": 10000,
				"energy": 13000,
				"discount": 30,
				"method": "sberPay",
				"status": "pending",
				"created_at": "2024-01-01T12:00:00Z"
			}`,
		},
		{
			name:       "PurchaseAboveCeiling",
			method:     "POST",
			path:       "/energy/purchases",
			req:        `{"amount": 10001, "method": "sbp"}`,
			wantStatus: 400,
			wantBody:   `{"error": "ValidationFailure"}`,
		},
		{
			name:       "ConfirmWrongSecret",
			method:     "POST",
			path:       "/energy/purchases/9/confirm",
			header:     http.Header{webhookSecretHeader: {"guess"}},
			wantStatus: 401,
			wantBody:   `{"error": "Unauthorized"}`,
		},
		{
			name:   "Confirm",
			method: "POST",
			path:   "/energy/purchases/9/confirm",
			header: http.Header{webhookSecretHeader: {"hook-secret"}},
			wallet: &testwallet{
				confirmPurchase: func(t *testing.T, purchaseID int64) (Purchase, int64, error) {
					if purchaseID != 9 {
						t.Errorf("Got purchase %d, want 9", purchaseID)
					}
					return Purchase{ID: 9, UserID: 1, Energy: 13000, Method: energy.MethodSBP, Status: PurchasePaid}, 13042, nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"purchase_id": 9, "user_id": 1, "status": "paid", "energy": 13042}`,
		},
		{
			name:   "ConfirmUnknownPurchase",
			method: "POST",
			path:   "/energy/purchases/10/confirm",
			header: http.Header{webhookSecretHeader: {"hook-secret"}},
			wallet: &testwallet{
				confirmPurchase: func(t *testing.T, purchaseID int64) (Purchase, int64, error) {
					return Purchase{}, 0, ErrNotFound
				},
			},
			wantStatus: 404,
			wantBody:   `{"error": "Purchase not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db == nil {
				tt.db = &testdb{}
			}
			tt.db.T = t
			if tt.wallet == nil {
				tt.wallet = &testwallet{}
			}
			tt.wallet.T = t
			api := &API{
				DB:            tt.db,
				Wallet:        tt.wallet,
				Logger:        slogt.New(t),
				Auth:          &Authenticator{TrustUserIDHeader: true},
				WebhookSecret: "hook-secret",
				Now:           func() time.Time { return testNow },
			}
			header := tt.header
			if header == nil {
				header = http.Header{"X-User-Id": {"1"}}
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp := doRequest(t, tt.method, srv.URL+tt.path, header, tt.req)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_social(t *testing.T) {
	lastSeen := testNow.Add(-5 * time.Second)
	longAgo := testNow.Add(-time.Hour)

	tests := []struct {
		name       string
		method     string
		path       string
		req        string
		db         *testdb
		inbox      *testinbox
		wantStatus int
		wantBody   string
	}{
		{
			name:   "ListSubscriptions",
			method: "GET",
			path:   "/subscriptions",
			db: &testdb{
				subscribedAuthorIDs: func(t *testing.T, userID int64) ([]int64, error) {
					return []int64{2, 5}, nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"subscribed_user_ids": [2, 5]}`,
		},
		{
			name:   "ListNoSubscriptions",
			method: "GET",
			path:   "/subscriptions",
			db: &testdb{
				subscribedAuthorIDs: func(t *testing.T, userID int64) ([]int64, error) {
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"subscribed_user_ids": []}`,
		},
		{
			name:   "Subscribe",
			method: "POST",
			path:   "/subscriptions/5",
			db: &testdb{
				subscribe: func(t *testing.T, userID, targetID int64) error {
					if userID != 1 || targetID != 5 {
						t.Errorf("Got subscription %d -> %d, want 1 -> 5", userID, targetID)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "SubscribeUnknownUser",
			method: "POST",
			path:   "/subscriptions/404",
			db: &testdb{
				subscribe: func(t *testing.T, userID, targetID int64) error {
					return ErrNotFound
				},
			},
			wantStatus: 404,
			wantBody:   `{"error": "User not found"}`,
		},
		{
			name:   "Unsubscribe",
			method: "DELETE",
			path:   "/subscriptions/5",
			db: &testdb{
				unsubscribe: func(t *testing.T, userID, targetID int64) error {
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "Heartbeat",
			method: "POST",
			path:   "/activity",
			db: &testdb{
				touchActivity: func(t *testing.T, userID int64, at time.Time) (bool, error) {
					if !at.Equal(testNow) {
						t.Errorf("Got activity at %v, want %v", at, testNow)
					}
					return false, nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "HeartbeatBanned",
			method: "POST",
			path:   "/activity",
			db: &testdb{
				touchActivity: func(t *testing.T, userID int64, at time.Time) (bool, error) {
					return true, nil
				},
			},
			wantStatus: 403,
			wantBody:   `{"error": "AuthorBanned"}`,
		},
		{
			name:   "OwnProfile",
			method: "GET",
			path:   "/users/1",
			db: &testdb{
				user: func(t *testing.T, userID int64) (User, error) {
					return User{ID: 1, Username: "alice", Energy: ptr(int64(42)), LastSeen: &lastSeen}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": 1,
				"username": "alice",
				"status_text": "",
				"energy": 42,
				"is_banned": false,
				"status": "online",
				"last_seen": "2024-01-01T11:59:55Z",
				"lat": null,
				"lon": null
			}`,
		},
		{
			name:   "OtherProfile",
			method: "GET",
			path:   "/users/2",
			db: &testdb{
				user: func(t *testing.T, userID int64) (User, error) {
					return User{ID: 2, Username: "bob", Energy: ptr(int64(7)), LastSeen: &longAgo, Lat: ptr(55.0), Lon: ptr(37.0)}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": 2,
				"username": "bob",
				"status_text": "",
				"is_banned": false,
				"status": "offline",
				"last_seen": "2024-01-01T11:00:00Z",
				"lat": 55,
				"lon": 37
			}`,
		},
		{
			name:   "BannedProfileOffline",
			method: "GET",
			path:   "/users/3",
			db: &testdb{
				user: func(t *testing.T, userID int64) (User, error) {
					return User{ID: 3, Username: "carol", Banned: true, LastSeen: &lastSeen}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": 3,
				"username": "carol",
				"status_text": "",
				"is_banned": true,
				"status": "offline",
				"last_seen": "2024-01-01T11:59:55Z",
				"lat": null,
				"lon": null
			}`,
		},
		{
			name:   "UpdateProfile",
			method: "PUT",
			path:   "/users/me",
			req:    `{"status_text": "out fishing"}`,
			db: &testdb{
				updateProfile: func(t *testing.T, userID int64, upd ProfileUpdate) (User, error) {
					if userID != 1 || upd.Username != nil || upd.StatusText == nil || *upd.StatusText != "out fishing" {
						t.Errorf("Got update %d %+v", userID, upd)
					}
					return User{ID: 1, Username: "alice", StatusText: "out fishing", Energy: ptr(int64(42)), LastSeen: &lastSeen}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": 1,
				"username": "alice",
				"status_text": "out fishing",
				"energy": 42,
				"is_banned": false,
				"status": "online",
				"last_seen": "2024-01-01T11:59:55Z",
				"lat": null,
				"lon": null
			}`,
		},
		{
			name:       "UpdateProfileNothing",
			method:     "PUT",
			path:       "/users/me",
			req:        `{}`,
			wantStatus: 400,
			wantBody:   `{"error": "ValidationFailure"}`,
		},
		{
			name:   "UpdateProfileUsernameTaken",
			method: "PUT",
			path:   "/users/me",
			req:    `{"username": "bob"}`,
			db: &testdb{
				updateProfile: func(t *testing.T, userID int64, upd ProfileUpdate) (User, error) {
					return User{}, ErrConflict
				},
			},
			wantStatus: 409,
			wantBody:   `{"error": "Username is taken"}`,
		},
		{
			name:   "ListBlocked",
			method: "GET",
			path:   "/blacklist",
			inbox: &testinbox{
				blockedUsers: func(t *testing.T, userID int64) ([]BlockedUser, error) {
					return []BlockedUser{{UserID: 2, Username: "bob", BlockedAt: longAgo}}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"blocked_users": [
					{"user_id": 2, "username": "bob", "blocked_at": "2024-01-01T11:00:00Z"}
				]
			}`,
		},
		{
			name:   "ListBlockedEmpty",
			method: "GET",
			path:   "/blacklist",
			inbox: &testinbox{
				blockedUsers: func(t *testing.T, userID int64) ([]BlockedUser, error) {
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"blocked_users": []}`,
		},
		{
			name:       "BlockSelf",
			method:     "POST",
			path:       "/blacklist/1",
			wantStatus: 400,
			wantBody:   `{"error": "Cannot block yourself"}`,
		},
		{
			name:   "Block",
			method: "POST",
			path:   "/blacklist/2",
			inbox: &testinbox{
				block: func(t *testing.T, userID, targetID int64) error {
					if userID != 1 || targetID != 2 {
						t.Errorf("Got block %d -> %d, want 1 -> 2", userID, targetID)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "Unblock",
			method: "DELETE",
			path:   "/blacklist/2",
			inbox: &testinbox{
				unblock: func(t *testing.T, userID, targetID int64) error {
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db == nil {
				tt.db = &testdb{}
			}
			tt.db.T = t
			if tt.inbox == nil {
				tt.inbox = &testinbox{}
			}
			tt.inbox.T = t
			api := &API{
				DB:     tt.db,
				Inbox:  tt.inbox,
				Logger: slogt.New(t),
				Auth:   &Authenticator{TrustUserIDHeader: true},
				Now:    func() time.Time { return testNow },
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp := doRequest(t, tt.method, srv.URL+tt.path, http.Header{"X-User-Id": {"1"}}, tt.req)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_privateMessages(t *testing.T) {
	created := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	long := strings.Repeat("ж", 60)

	tests := []struct {
		name        string
		method      string
		path        string
		req         string
		inbox       *testinbox
		pusher      *testpusher
		wantStatus  int
		wantBody    string
		wantPushes  []PushEvent
		containsLog string
	}{
		{
			name:       "ListWithoutPeer",
			method:     "GET",
			path:       "/private-messages",
			wantStatus: 400,
			wantBody:   `{"error": "Invalid other_user_id"}`,
		},
		{
			name:   "List",
			method: "GET",
			path:   "/private-messages?other_user_id=2",
			inbox: &testinbox{
				conversation: func(t *testing.T, userID, otherID int64, limit int) ([]PrivateMessage, error) {
					if userID != 1 || otherID != 2 || limit != 100 {
						t.Errorf("Got conversation (%d, %d, %d)", userID, otherID, limit)
					}
					return []PrivateMessage{{ID: 3, SenderID: 2, SenderName: "bob", ReceiverID: 1, Text: "hey", IsRead: true, CreatedAt: created}}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": [{
					"id": 3,
					"sender_id": 2,
					"sender_name": "bob",
					"receiver_id": 1,
					"text": "hey",
					"is_read": true,
					"created_at": "2024-01-01T11:00:00Z"
				}]
			}`,
		},
		{
			name:   "SendBlocked",
			method: "POST",
			path:   "/private-messages",
			req:    `{"receiver_id": 2, "text": "hey"}`,
			inbox: &testinbox{
				sendPrivate: func(t *testing.T, msg PrivateMessage) (PrivateMessage, error) {
					return PrivateMessage{}, ErrBlocked
				},
			},
			wantStatus: 403,
			wantBody:   `{"error": "User is blocked"}`,
		},
		{
			name:       "SendToSelf",
			method:     "POST",
			path:       "/private-messages",
			req:        `{"receiver_id": 1, "text": "hey"}`,
			wantStatus: 400,
			wantBody:   `{"error": "Cannot message yourself"}`,
		},
		{
			name:   "Send",
			method: "POST",
			path:   "/private-messages",
			req:    `{"receiver_id": 2, "text": "` + long + `"}`,
			inbox: &testinbox{
				sendPrivate: func(t *testing.T, msg PrivateMessage) (PrivateMessage, error) {
					msg.ID = 4
					msg.SenderName = "alice"
					return msg, nil
				},
			},
			pusher:     &testpusher{},
			wantStatus: 201,
			wantBody: `{
				"id": 4,
				"sender_id": 1,
				"sender_name": "alice",
				"receiver_id": 2,
				"text": "` + long + `",
				"is_read": false,
				"created_at": "2024-01-01T12:00:00Z"
			}`,
			wantPushes: []PushEvent{{
				RecipientID: 2,
				Title:       "💬 alice",
				Body:        strings.Repeat("ж", 50) + "...",
				Data:        map[string]string{"chatUrl": "/chat/1", "senderId": "1"},
			}},
		},
		{
			name:   "SendPushFails",
			method: "POST",
			path:   "/private-messages",
			req:    `{"receiver_id": 2, "text": "hey"}`,
			inbox: &testinbox{
				sendPrivate: func(t *testing.T, msg PrivateMessage) (PrivateMessage, error) {
					msg.ID = 5
					msg.SenderName = "alice"
					return msg, nil
				},
			},
			pusher:     &testpusher{err: errors.New("nats: no servers available")},
			wantStatus: 201,
			wantBody: `{
				"id": 5,
				"sender_id": 1,
				"sender_name": "alice",
				"receiver_id": 2,
				"text": "hey",
				"is_read": false,
				"created_at": "2024-01-01T12:00:00Z"
			}`,
			containsLog: "Could not publish push notification",
		},
		{
			name:   "Conversations",
			method: "GET",
			path:   "/private-messages/conversations",
			inbox: &testinbox{
				conversations: func(t *testing.T, userID int64) ([]Conversation, error) {
					if userID != 1 {
						t.Errorf("Got conversations of %d, want 1", userID)
					}
					return []Conversation{{UserID: 2, Username: "bob", LastMessage: "hey", LastMessageAt: created, UnreadCount: 2}}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"conversations": [{
					"user_id": 2,
					"username": "bob",
					"last_message": "hey",
					"last_message_at": "2024-01-01T11:00:00Z",
					"unread_count": 2
				}]
			}`,
		},
		{
			name:   "Unread",
			method: "GET",
			path:   "/private-messages/unread",
			inbox: &testinbox{
				unreadCount: func(t *testing.T, userID int64) (int, error) {
					return 3, nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"count": 3}`,
		},
		{
			name:   "DeleteOthers",
			method: "DELETE",
			path:   "/private-messages/3",
			inbox: &testinbox{
				deletePrivate: func(t *testing.T, userID, messageID int64) error {
					return ErrForbidden
				},
			},
			wantStatus: 403,
			wantBody:   `{"error": "Cannot delete another user's message"}`,
		},
		{
			name:   "DeleteMissing",
			method: "DELETE",
			path:   "/private-messages/30",
			inbox: &testinbox{
				deletePrivate: func(t *testing.T, userID, messageID int64) error {
					return ErrNotFound
				},
			},
			wantStatus: 404,
			wantBody:   `{"error": "Message not found"}`,
		},
		{
			name:   "Delete",
			method: "DELETE",
			path:   "/private-messages/4",
			inbox: &testinbox{
				deletePrivate: func(t *testing.T, userID, messageID int64) error {
					if userID != 1 || messageID != 4 {
						t.Errorf("Got delete (%d, %d), want (1, 4)", userID, messageID)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if tt.inbox == nil {
				tt.inbox = &testinbox{}
			}
			tt.inbox.T = t
			api := &API{
				Inbox:  tt.inbox,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
				Auth:   &Authenticator{TrustUserIDHeader: true},
				Now:    func() time.Time { return testNow },
			}
			if tt.pusher != nil {
				api.Pusher = tt.pusher
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp := doRequest(t, tt.method, srv.URL+tt.path, http.Header{"X-User-Id": {"1"}}, tt.req)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
			checkLog(t, buf, tt.containsLog)
			if tt.pusher != nil && tt.pusher.err == nil {
				if diff := cmp.Diff(tt.wantPushes, tt.pusher.events); diff != "" {
					t.Errorf("push events mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestAPI_typing(t *testing.T) {
	type status struct {
		peerID int64
		at     time.Time
	}

	tests := []struct {
		name       string
		method     string
		path       string
		user       string
		req        string
		stored     map[int64]status
		noStore    bool
		wantStatus int
		wantBody   string
		wantFields []string
		wantStored map[int64]status
	}{
		{
			name:       "Set",
			method:     "POST",
			path:       "/typing",
			user:       "1",
			req:        `{"typing_to": 2}`,
			stored:     map[int64]status{},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
			wantStored: map[int64]status{1: {peerID: 2, at: testNow}},
		},
		{
			name:       "SetWithoutPeer",
			method:     "POST",
			path:       "/typing",
			user:       "1",
			req:        `{}`,
			stored:     map[int64]status{},
			wantStatus: 400,
			wantFields: []string{"typing_to"},
			wantStored: map[int64]status{},
		},
		{
			name:       "TypingToViewer",
			method:     "GET",
			path:       "/typing?user_id=1",
			user:       "2",
			stored:     map[int64]status{1: {peerID: 2, at: testNow.Add(-time.Second)}},
			wantStatus: 200,
			wantBody:   `{"is_typing": true, "typing_to": 2}`,
		},
		{
			name:       "TypingTooLongAgo",
			method:     "GET",
			path:       "/typing?user_id=1",
			user:       "2",
			stored:     map[int64]status{1: {peerID: 2, at: testNow.Add(-4 * time.Second)}},
			wantStatus: 200,
			wantBody:   `{"is_typing": false, "typing_to": null}`,
		},
		{
			name:       "TypingToSomeoneElse",
			method:     "GET",
			path:       "/typing?user_id=1",
			user:       "2",
			stored:     map[int64]status{1: {peerID: 3, at: testNow}},
			wantStatus: 200,
			wantBody:   `{"is_typing": false, "typing_to": null}`,
		},
		{
			name:       "NotTyping",
			method:     "GET",
			path:       "/typing?user_id=1",
			user:       "2",
			stored:     map[int64]status{},
			wantStatus: 200,
			wantBody:   `{"is_typing": false, "typing_to": null}`,
		},
		{
			name:       "MissingUser",
			method:     "GET",
			path:       "/typing",
			user:       "2",
			stored:     map[int64]status{},
			wantStatus: 400,
			wantBody:   `{"error": "Invalid user_id"}`,
		},
		{
			name:       "NoStore",
			method:     "GET",
			path:       "/typing?user_id=1",
			user:       "2",
			noStore:    true,
			wantStatus: 503,
			wantBody:   `{"error": "Typing status unavailable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &API{
				Logger: slogt.New(t),
				Auth:   &Authenticator{TrustUserIDHeader: true},
				Now:    func() time.Time { return testNow },
			}
			if !tt.noStore {
				api.Typing = &testtyping{
					set: func(userID, peerID int64, at time.Time) error {
						tt.stored[userID] = status{peerID: peerID, at: at}
						return nil
					},
					get: func(userID int64) (int64, time.Time, bool, error) {
						st, ok := tt.stored[userID]
						return st.peerID, st.at, ok, nil
					},
				}
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp := doRequest(t, tt.method, srv.URL+tt.path, http.Header{"X-User-Id": {tt.user}}, tt.req)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			if tt.wantFields != nil {
				checkValidation(t, resp, tt.wantFields)
			} else {
				checkBody(t, resp, tt.wantBody)
			}
			if tt.wantStored != nil {
				if diff := cmp.Diff(tt.wantStored, tt.stored, cmp.AllowUnexported(status{})); diff != "" {
					t.Errorf("stored statuses mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "short", want: "short"},
		{in: strings.Repeat("a", 50), want: strings.Repeat("a", 50)},
		{in: strings.Repeat("a", 51), want: strings.Repeat("a", 50) + "..."},
		{in: strings.Repeat("я", 51), want: strings.Repeat("я", 50) + "..."},
	}
	for _, tt := range tests {
		if got := preview(tt.in, 50); got != tt.want {
			t.Errorf("preview(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type testdb struct {
	T                   *testing.T
	listMessages        func(t *testing.T, limit int, offset int, excludeMsgIDs ...int64) ([]feed.Message, error)
	insertReaction      func(t *testing.T, messageID, userID int64, emoji string) ([]feed.Reaction, error)
	balance             func(t *testing.T, userID int64) (int64, error)
	user                func(t *testing.T, userID int64) (User, error)
	touchActivity       func(t *testing.T, userID int64, at time.Time) (bool, error)
	subscribedAuthorIDs func(t *testing.T, userID int64) ([]int64, error)
	subscribe           func(t *testing.T, userID, targetID int64) error
	unsubscribe         func(t *testing.T, userID, targetID int64) error
	updateProfile       func(t *testing.T, userID int64, upd ProfileUpdate) (User, error)
}

func (db *testdb) ListMessages(_ context.Context, limit int, offset int, excludeMsgIDs ...int64) ([]feed.Message, error) {
	return db.listMessages(db.T, limit, offset, excludeMsgIDs...)
}

func (db *testdb) InsertReaction(_ context.Context, messageID, userID int64, emoji string) ([]feed.Reaction, error) {
	return db.insertReaction(db.T, messageID, userID, emoji)
}

func (db *testdb) Balance(_ context.Context, userID int64) (int64, error) {
	return db.balance(db.T, userID)
}

func (db *testdb) User(_ context.Context, userID int64) (User, error) {
	return db.user(db.T, userID)
}

func (db *testdb) TouchActivity(_ context.Context, userID int64, at time.Time) (bool, error) {
	return db.touchActivity(db.T, userID, at)
}

func (db *testdb) SubscribedAuthorIDs(_ context.Context, userID int64) ([]int64, error) {
	return db.subscribedAuthorIDs(db.T, userID)
}

func (db *testdb) Subscribe(_ context.Context, userID, targetID int64) error {
	return db.subscribe(db.T, userID, targetID)
}

func (db *testdb) Unsubscribe(_ context.Context, userID, targetID int64) error {
	return db.unsubscribe(db.T, userID, targetID)
}

func (db *testdb) UpdateProfile(_ context.Context, userID int64, upd ProfileUpdate) (User, error) {
	return db.updateProfile(db.T, userID, upd)
}

type testcache struct {
	T             *testing.T
	listMessages  func(t *testing.T) ([]feed.Message, error)
	insertMessage func(t *testing.T, msg feed.Message) error
	setReactions  func(t *testing.T, messageID int64, reactions []feed.Reaction) error
}

func (c *testcache) ListMessages(_ context.Context) ([]feed.Message, error) {
	return c.listMessages(c.T)
}

func (c *testcache) InsertMessage(_ context.Context, msg feed.Message) error {
	if c.insertMessage == nil {
		return nil
	}
	return c.insertMessage(c.T, msg)
}

func (c *testcache) SetReactions(_ context.Context, messageID int64, reactions []feed.Reaction) error {
	if c.setReactions == nil {
		return nil
	}
	return c.setReactions(c.T, messageID, reactions)
}

type testsender struct {
	T    *testing.T
	send func(t *testing.T, req energy.SendRequest) (energy.Receipt, error)
}

func (s *testsender) Send(_ context.Context, req energy.SendRequest) (energy.Receipt, error) {
	return s.send(s.T, req)
}

type testwallet struct {
	T               *testing.T
	createPurchase  func(t *testing.T, p Purchase) (Purchase, error)
	confirmPurchase func(t *testing.T, purchaseID int64) (Purchase, int64, error)
}

func (w *testwallet) CreatePurchase(_ context.Context, p Purchase) (Purchase, error) {
	return w.createPurchase(w.T, p)
}

func (w *testwallet) ConfirmPurchase(_ context.Context, purchaseID int64) (Purchase, int64, error) {
	return w.confirmPurchase(w.T, purchaseID)
}

type testinbox struct {
	T             *testing.T
	conversation  func(t *testing.T, userID, otherID int64, limit int) ([]PrivateMessage, error)
	sendPrivate   func(t *testing.T, msg PrivateMessage) (PrivateMessage, error)
	unreadCount   func(t *testing.T, userID int64) (int, error)
	deletePrivate func(t *testing.T, userID, messageID int64) error
	block         func(t *testing.T, userID, targetID int64) error
	unblock       func(t *testing.T, userID, targetID int64) error
	blockedUsers  func(t *testing.T, userID int64) ([]BlockedUser, error)
	conversations func(t *testing.T, userID int64) ([]Conversation, error)
}

func (i *testinbox) Conversation(_ context.Context, userID, otherID int64, limit int) ([]PrivateMessage, error) {
	return i.conversation(i.T, userID, otherID, limit)
}

func (i *testinbox) SendPrivate(_ context.Context, msg PrivateMessage) (PrivateMessage, error) {
	return i.sendPrivate(i.T, msg)
}

func (i *testinbox) UnreadCount(_ context.Context, userID int64) (int, error) {
	return i.unreadCount(i.T, userID)
}

func (i *testinbox) DeletePrivate(_ context.Context, userID, messageID int64) error {
	return i.deletePrivate(i.T, userID, messageID)
}

func (i *testinbox) Block(_ context.Context, userID, targetID int64) error {
	return i.block(i.T, userID, targetID)
}

func (i *testinbox) Unblock(_ context.Context, userID, targetID int64) error {
	return i.unblock(i.T, userID, targetID)
}

func (i *testinbox) BlockedUsers(_ context.Context, userID int64) ([]BlockedUser, error) {
	return i.blockedUsers(i.T, userID)
}

func (i *testinbox) Conversations(_ context.Context, userID int64) ([]Conversation, error) {
	return i.conversations(i.T, userID)
}

type testtyping struct {
	set func(userID, peerID int64, at time.Time) error
	get func(userID int64) (int64, time.Time, bool, error)
}

func (ty *testtyping) SetTyping(_ context.Context, userID, peerID int64, at time.Time) error {
	return ty.set(userID, peerID, at)
}

func (ty *testtyping) Typing(_ context.Context, userID int64) (int64, time.Time, bool, error) {
	return ty.get(userID)
}

type testpusher struct {
	events []PushEvent
	err    error
}

func (p *testpusher) Publish(_ context.Context, ev PushEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func doRequest(t *testing.T, method, url string, header http.Header, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, bytes.NewReader([]byte(want)))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

func checkValidation(t *testing.T, resp *http.Response, wantFields []string) {
	t.Helper()
	var body struct {
		Error  string                      `json:"error"`
		Errors []validator.ValidationError `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Could not decode body: %v", err)
	}
	if body.Error != codeValidation {
		t.Errorf("Got error %q, want %q", body.Error, codeValidation)
	}
	var got []string
	for _, e := range body.Errors {
		got = append(got, e.Field)
	}
	if diff := cmp.Diff(wantFields, got); diff != "" {
		t.Errorf("invalid fields mismatch (-want +got):\n%s", diff)
	}
}

func checkLog(t *testing.T, buffer *bytes.Buffer, want string) {
	t.Helper()

	if s := buffer.String(); want != "" && !strings.Contains(s, want) {
		t.Errorf("Log does not contain  %s\n", want)
	}
}

// normalizeJSON re-encodes r with sorted keys so that bodies compare
// independently of field order and whitespace.
func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Could not read JSON: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("Could not parse JSON %q: %v", b, err)
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		t.Fatalf("Could not indent JSON: %v", err)
	}
	return string(out)
}
