// Command auxchat serves the chat backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auxchat/auxchat-backend/api"
	"github.com/auxchat/auxchat-backend/api/validator"
	"github.com/auxchat/auxchat-backend/config"
	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/metrics"
	"github.com/auxchat/auxchat-backend/postgres"
	"github.com/auxchat/auxchat-backend/push"
	"github.com/auxchat/auxchat-backend/redis"
)

func main() {
	cfg, err := config.LoadServer(".env")
	if err != nil {
		slog.Error("Could not load config", "error", err.Error())
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	a := &api.API{
		Logger: logger,
		DB:     pg,
		Sender: energy.NewAuthorizer(pg, cfg.MessageCost, logger),
		Wallet: pg,
		Inbox:  pg,
		Auth: &api.Authenticator{
			Secret:            []byte(cfg.JWTSecret),
			TrustUserIDHeader: cfg.TrustUserIDHeader,
		},
		Limiter:       api.NewRateLimiter(cfg.SendRatePerSec, cfg.SendBurst),
		Val:           validator.New(),
		Pricing:       cfg.Schedule(),
		WebhookSecret: cfg.WebhookSecret,
	}

	if cfg.RedisAddr != "" {
		rd, err := redis.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rd.Close()
		a.Cache = rd
		a.Typing = rd
	} else {
		logger.Info("REDIS_ADDR not set, feed cache and typing status disabled")
	}

	if cfg.NATSURL != "" {
		pub, err := push.Connect(push.Config{URL: cfg.NATSURL, Name: "auxchat"}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		a.Pusher = pub
	} else {
		logger.Info("NATS_URL not set, push notifications disabled")
	}

	go a.Limiter.Run(ctx, time.Minute, cfg.LimiterIdle)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/", a)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.ListenAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
