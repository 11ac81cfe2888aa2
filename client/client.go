// Package client is the HTTP client of the chat backend used by viewer
// sessions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auxchat/auxchat-backend/api"
	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/feed"
)

var (
	// ErrInsufficientEnergy and ErrAuthorBanned are the server's send
	// denials. They match the energy package sentinels with errors.Is.
	ErrInsufficientEnergy = energy.ErrInsufficientEnergy
	ErrAuthorBanned       = energy.ErrAuthorBanned
	// ErrValidation is returned for requests rejected before any state
	// changed, locally or by the server.
	ErrValidation = energy.ErrInvalidAmount
	// ErrTransport wraps failures to reach the server. A send that fails
	// this way may or may not have been applied.
	ErrTransport    = errors.New("transport failure")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
)

// An Error is a server rejection that maps to no sentinel.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.Status, e.Message)
}

const defaultRetries = 2

// Client calls the chat backend on behalf of one user.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Token is sent as a bearer token. Without it, UserID is sent in the
	// X-User-Id header.
	Token   string
	UserID  int64
	Pricing energy.Schedule
	Logger  *slog.Logger

	// Retries bounds how often a read is repeated after a transport
	// failure. Sends are never repeated.
	Retries int
	Backoff time.Duration
	NewKey  func() string
}

// New returns a Client with defaults for everything but the identity.
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Pricing: energy.DefaultSchedule,
		Logger:  logger,
		Retries: defaultRetries,
		Backoff: 200 * time.Millisecond,
		NewKey:  uuid.NewString,
	}
}

// Sent is the server's acknowledgement of a feed message.
type Sent struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	// Energy is the author's balance after the send.
	Energy int64    `json:"energy"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
}

// MessagesQuery selects a feed page.
type MessagesQuery struct {
	Limit  int
	Offset int
	Radius feed.Radius
	Viewer *feed.Point
}

// Balance returns the caller's energy.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var resp struct {
		Energy int64 `json:"energy"`
	}
	if err := c.read(ctx, "/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Energy, nil
}

// SendMessage posts text to the feed under a fresh idempotency key. origin
// may be nil to use the profile location.
func (c *Client) SendMessage(ctx context.Context, text string, origin *feed.Point) (Sent, error) {
	type request struct {
		Text           string   `json:"text"`
		IdempotencyKey string   `json:"idempotency_key"`
		Lat            *float64 `json:"lat,omitempty"`
		Lon            *float64 `json:"lon,omitempty"`
	}

	req := request{Text: text, IdempotencyKey: c.NewKey()}
	if origin != nil {
		lat, lon := origin.Lat, origin.Lon
		req.Lat, req.Lon = &lat, &lon
	}

	var sent Sent
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &sent, req.IdempotencyKey); err != nil {
		return Sent{}, err
	}
	return sent, nil
}

// Messages returns a feed page, oldest first.
func (c *Client) Messages(ctx context.Context, q MessagesQuery) ([]feed.Message, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Radius != 0 {
		params.Set("radius", q.Radius.String())
	}
	if q.Viewer != nil {
		params.Set("lat", strconv.FormatFloat(q.Viewer.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(q.Viewer.Lon, 'f', -1, 64))
	}

	var resp struct {
		Messages []feed.Message `json:"messages"`
	}
	if err := c.read(ctx, "/messages", params, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SubscribedAuthorIDs returns the authors the caller is subscribed to.
func (c *Client) SubscribedAuthorIDs(ctx context.Context) ([]int64, error) {
	var resp struct {
		IDs []int64 `json:"subscribed_user_ids"`
	}
	if err := c.read(ctx, "/subscriptions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (c *Client) Subscribe(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, "/subscriptions/"+strconv.FormatInt(userID, 10), nil, nil, nil, "")
}

func (c *Client) Unsubscribe(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+strconv.FormatInt(userID, 10), nil, nil, nil, "")
}

// PurchaseEnergy starts a purchase. The amount is checked against the
// pricing schedule before anything is sent.
func (c *Client) PurchaseEnergy(ctx context.Context, amount int64, method energy.PaymentMethod) (api.Purchase, error) {
	type request struct {
		Amount int64                `json:"amount"`
		Method energy.PaymentMethod `json:"method"`
	}

	if err := c.Pricing.ValidateAmount(amount); err != nil {
		return api.Purchase{}, err
	}
	if !method.Valid() {
		return api.Purchase{}, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}

	var p api.Purchase
	if err := c.do(ctx, http.MethodPost, "/energy/purchases", nil, request{Amount: amount, Method: method}, &p, ""); err != nil {
		return api.Purchase{}, err
	}
	return p, nil
}

// UnreadCount returns the number of unread private messages.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.read(ctx, "/private-messages/unread", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Heartbeat reports the caller as active. It returns ErrAuthorBanned for
// banned users.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/activity", nil, nil, nil, "")
}

// read performs a GET, retrying transport failures.
func (c *Client) read(ctx context.Context, path string, params url.Values, dst any) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.do(ctx, http.MethodGet, path, params, nil, dst, "")
		if !errors.Is(err, ErrTransport) || attempt >= c.Retries {
			return err
		}
		if c.Logger != nil {
			c.Logger.Warn("Retrying request", "path", path, "attempt", attempt+1, "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
		case <-time.After(c.Backoff * time.Duration(attempt+1)):
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, dst any, idempotencyKey string) error {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.UserID > 0:
		req.Header.Set("X-User-Id", strconv.FormatInt(c.UserID, 10))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrTransport, path, err)
	}
	return nil
}

// responseError maps an error response to the client's error taxonomy.
func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrInsufficientEnergy
	case body.Error == ErrAuthorBanned.Error():
		return ErrAuthorBanned
	case body.Error == ErrValidation.Error():
		return ErrValidation
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body.Error)
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrTransport, resp.Status)
	}
	return &Error{Status: resp.StatusCode, Message: body.Error}
}
