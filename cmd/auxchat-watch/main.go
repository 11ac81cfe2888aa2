// Command auxchat-watch follows the feed of one user from the terminal. It
// prints subscribed-author badges, rings on new private messages and exits
// when the account gets banned.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang-jwt/jwt/v5"

	"github.com/auxchat/auxchat-backend/api"
	"github.com/auxchat/auxchat-backend/client"
	"github.com/auxchat/auxchat-backend/config"
	"github.com/auxchat/auxchat-backend/feed"
	"github.com/auxchat/auxchat-backend/session"
)

func main() {
	cfg, err := config.LoadWatcher(".env")
	if err != nil {
		slog.Error("Could not load config", "error", err.Error())
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Watcher stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Watcher, logger *slog.Logger) error {
	radius, err := cfg.GeoRadius()
	if err != nil {
		return err
	}
	location, err := parseLocation(cfg.Lat, cfg.Lon)
	if err != nil {
		return err
	}

	viewerID := cfg.UserID
	if viewerID == 0 {
		if viewerID, err = tokenUserID(cfg.Token); err != nil {
			return err
		}
	}

	c := client.New(cfg.BaseURL, logger)
	c.HTTP.Timeout = cfg.RequestTimeout
	c.Token = cfg.Token
	c.UserID = cfg.UserID

	s := session.New(c, viewerID, session.Options{
		Location: location,
		Radius:   radius,
		SendCost: cfg.SendCost,
		Hooks: session.Hooks{
			OnSound: func() { fmt.Print("\a") },
			OnSubscribedBadge: func(fresh, total int) {
				fmt.Printf("%d new from subscriptions (%d unread)\n", fresh, total)
			},
			OnLogout: func(reason error) {
				fmt.Printf("logged out: %v\n", reason)
			},
		},
	}, logger)

	if balance, err := s.RefreshBalance(ctx); err == nil {
		fmt.Printf("energy: %d\n", balance)
	} else {
		logger.Warn("Could not load balance", "error", err.Error())
	}

	p := &session.Poller{
		Session:           s,
		Logger:            logger,
		FeedInterval:      cfg.FeedInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}
	err = p.Run(ctx)
	if errors.Is(err, session.ErrInvalidated) {
		return errors.New("account is banned")
	}
	return err
}

func parseLocation(lat, lon string) (*feed.Point, error) {
	if lat == "" && lon == "" {
		return nil, nil
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("AUXCHAT_LAT: %w", err)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, fmt.Errorf("AUXCHAT_LON: %w", err)
	}
	return &feed.Point{Lat: la, Lon: lo}, nil
}

// tokenUserID reads the user id claim of a token. The signature is checked
// by the server, not here.
func tokenUserID(token string) (int64, error) {
	var claims api.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0, fmt.Errorf("AUXCHAT_TOKEN: %w", err)
	}
	if claims.UserID <= 0 {
		return 0, errors.New("AUXCHAT_TOKEN: missing user_id claim")
	}
	return claims.UserID, nil
}
