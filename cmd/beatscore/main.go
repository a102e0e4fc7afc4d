// Command beatscore runs the listening-score server: the HTTP API plus the
// recurring reconciliation sweeps.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/beatscore/beatscore/internal/auth"
	"github.com/beatscore/beatscore/internal/cache"
	"github.com/beatscore/beatscore/internal/config"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/groups"
	"github.com/beatscore/beatscore/internal/ledger"
	"github.com/beatscore/beatscore/internal/poller"
	"github.com/beatscore/beatscore/internal/score"
	"github.com/beatscore/beatscore/internal/spotify"
	"github.com/beatscore/beatscore/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	memo, err := cache.New(cfg.Cache.Capacity)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}

	creds := auth.NewProvider(database.Users(), cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	upstream := spotify.New()

	plays := ledger.New(database.Plays(),
		ledger.WithLookback(cfg.Poll.Interval),
		ledger.WithRetention(cfg.Poll.RetentionDays),
	)

	engine := score.New(database.Members(), database.Plays(), upstream, creds, memo, logger,
		score.WithTTL(cfg.Cache.TTL),
	)

	groupSvc := groups.New(database.Groups(), database.Members(), database.Recommendations(), engine, memo, logger)

	sweeper := poller.New(database.Users(), upstream, plays, creds, memo, logger, poller.Config{
		Interval:       cfg.Poll.Interval,
		RateLimitDelay: cfg.Poll.RateLimitDelay,
		UserTimeout:    cfg.Poll.UserTimeout,
		RetentionHour:  cfg.Poll.RetentionHour,
	})
	go sweeper.Run(ctx)

	server := web.NewServer(web.ServerConfig{
		Addr:         cfg.Addr,
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURL:  cfg.RedirectURL,
		JWTSecret:    cfg.JWTSecret,
	}, database.Users(), groupSvc, engine, upstream, creds, logger)

	return server.Run()
}
