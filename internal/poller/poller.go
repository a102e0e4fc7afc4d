// Package poller drives the recurring reconciliation sweeps.
package poller

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/beatscore/beatscore/internal/auth"
	"github.com/beatscore/beatscore/internal/cache"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

const recentPlaysLimit = 50

// UserLister is the slice of the store the poller reads.
type UserLister interface {
	List(ctx context.Context) ([]db.User, error)
}

// PlayFetcher is the slice of the upstream client the poller needs.
type PlayFetcher interface {
	RecentPlays(ctx context.Context, tok *oauth2.Token, after time.Time, limit int) ([]spotify.PlayedTrack, error)
}

// Ingester is the slice of the play ledger the poller drives.
type Ingester interface {
	Ingest(ctx context.Context, userID string, candidates []spotify.PlayedTrack) (int, error)
	Prune(ctx context.Context) (int64, error)
}

// Config tunes the poller.
type Config struct {
	Interval       time.Duration // recent-plays sweep cadence
	RateLimitDelay time.Duration // enforced delay between users within a sweep
	UserTimeout    time.Duration // upper bound on one user's work
	RetentionHour  int           // local wall-clock hour of the daily prune
}

// Poller runs the recent-plays sweep and the daily retention sweep.
type Poller struct {
	users    UserLister
	upstream PlayFetcher
	ledger   Ingester
	creds    auth.CredentialProvider
	cache    *cache.Cache
	limiter  *rate.Limiter
	logger   *log.Logger
	cfg      Config
	now      func() time.Time
}

// New creates a Poller.
func New(users UserLister, upstream PlayFetcher, ledger Ingester, creds auth.CredentialProvider, c *cache.Cache, logger *log.Logger, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 100 * time.Millisecond
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = 30 * time.Second
	}
	return &Poller{
		users:    users,
		upstream: upstream,
		ledger:   ledger,
		creds:    creds,
		cache:    c,
		limiter:  rate.NewLimiter(rate.Every(cfg.RateLimitDelay), 1),
		logger:   logger.With("component", "poller"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run blocks driving both sweeps until ctx is cancelled. The recent-plays
// sweep also runs once immediately.
func (p *Poller) Run(ctx context.Context) {
	p.Sweep(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	prune := time.NewTimer(p.untilNextPrune())
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		case <-prune.C:
			p.Retention(ctx)
			prune.Reset(p.untilNextPrune())
		}
	}
}

// Sweep reconciles recent plays for every known user, sequentially and
// rate-limited. A single user's failure is logged and skipped; it never
// aborts the batch.
func (p *Poller) Sweep(ctx context.Context) {
	users, err := p.users.List(ctx)
	if err != nil {
		p.logger.Error("listing users", "err", err)
		return
	}
	p.logger.Debug("recent-plays sweep started", "users", len(users))

	for _, user := range users {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		if err := p.sweepUser(ctx, user.ID); err != nil {
			p.logger.Warn("user sweep failed", "user", user.ID, "err", err)
		}
	}
}

func (p *Poller) sweepUser(ctx context.Context, userID string) error {
	// A stuck user must not hang the whole sweep.
	ctx, cancel := context.WithTimeout(ctx, p.cfg.UserTimeout)
	defer cancel()

	after := p.now().Add(-p.cfg.Interval)

	var inserted int
	err := auth.Do(ctx, p.creds, userID, func(tok *oauth2.Token) error {
		plays, err := p.upstream.RecentPlays(ctx, tok, after, recentPlaysLimit)
		if err != nil {
			return err
		}
		inserted, err = p.ledger.Ingest(ctx, userID, plays)
		return err
	})
	if err != nil {
		return err
	}

	if inserted > 0 {
		// New plays make the memoized score stale.
		p.cache.Invalidate(cache.UserScoreKey(userID))
		p.logger.Info("plays ingested", "user", userID, "count", inserted)
	}
	return nil
}

// Retention prunes plays past the retention window. Failure is logged and
// retried at the next scheduled run, never fatal.
func (p *Poller) Retention(ctx context.Context) {
	deleted, err := p.ledger.Prune(ctx)
	if err != nil {
		p.logger.Error("retention sweep failed", "err", err)
		return
	}
	p.logger.Info("retention sweep completed", "deleted", deleted)
}

// untilNextPrune returns the duration until the next configured
// wall-clock prune time.
func (p *Poller) untilNextPrune() time.Duration {
	now := p.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), p.cfg.RetentionHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
