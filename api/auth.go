package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are the JWT claims issued to users.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator resolves the calling user from a bearer token. When
// TrustUserIDHeader is set, requests without a token may name themselves
// through the X-User-Id header, which is only safe behind a gateway that
// strips it.
type Authenticator struct {
	Secret            []byte
	TrustUserIDHeader bool
}

// UserID returns the authenticated user of r.
func (a *Authenticator) UserID(r *http.Request) (int64, error) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return a.parse(strings.TrimSpace(token))
	}
	if a.TrustUserIDHeader {
		if s := r.Header.Get("X-User-Id"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil || id <= 0 {
				return 0, fmt.Errorf("%w: invalid X-User-Id", ErrUnauthenticated)
			}
			return id, nil
		}
	}
	return 0, ErrUnauthenticated
}

func (a *Authenticator) parse(raw string) (int64, error) {
	if len(a.Secret) == 0 {
		return 0, fmt.Errorf("%w: no signing secret", ErrUnauthenticated)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.UserID <= 0 {
		return 0, fmt.Errorf("%w: missing user_id claim", ErrUnauthenticated)
	}
	return claims.UserID, nil
}

// Sign issues a token for userID valid for ttl.
func (a *Authenticator) Sign(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}
