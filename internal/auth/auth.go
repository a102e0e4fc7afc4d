// Package auth supplies and refreshes Spotify bearer credentials for users.
//
// The rest of the system depends only on the small CredentialProvider
// capability, so the sync side never imports the login flow and the login
// flow depends only on the store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

// ErrAuthExpired is returned when a user's credentials cannot be refreshed.
// Batch callers skip the affected user for the current cycle.
var ErrAuthExpired = errors.New("credentials expired and refresh failed")

// expirySkew is how long before the recorded expiry a token is treated as
// already expired, to absorb clock skew against the provider.
const expirySkew = time.Minute

// Do runs fn with a valid credential for the user. When the upstream
// rejects the token mid-call, the credential is refreshed and fn retried
// exactly once; a refresh failure surfaces as ErrAuthExpired.
func Do(ctx context.Context, p CredentialProvider, userID string, fn func(tok *oauth2.Token) error) error {
	tok, err := p.Token(ctx, userID)
	if err != nil {
		return err
	}

	err = fn(tok)
	if errors.Is(err, spotify.ErrTokenExpired) {
		tok, err = p.Refresh(ctx, userID)
		if err != nil {
			return err
		}
		return fn(tok)
	}
	return err
}

// CredentialProvider supplies a valid bearer credential for a user.
type CredentialProvider interface {
	// Token returns a credential expected to be valid right now.
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
	// Refresh forces a refresh-token exchange, persists the rotated
	// credentials, and returns the new token.
	Refresh(ctx context.Context, userID string) (*oauth2.Token, error)
}

// UserStore is the slice of the store the provider needs.
type UserStore interface {
	Get(ctx context.Context, id string) (*db.User, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
}

// Provider implements CredentialProvider backed by the users table and the
// Spotify token endpoint.
type Provider struct {
	store UserStore
	conf  *oauth2.Config
}

// NewProvider creates a Provider with the given Spotify client credentials.
func NewProvider(store UserStore, clientID, clientSecret string) *Provider {
	return &Provider{
		store: store,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
	}
}

// Token returns the stored access token when it has not expired, refreshing
// it otherwise.
func (p *Provider) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	user, err := p.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if time.Now().Add(expirySkew).Before(user.TokenExpiry) {
		return &oauth2.Token{
			AccessToken:  user.AccessToken,
			RefreshToken: user.RefreshToken,
			Expiry:       user.TokenExpiry,
			TokenType:    "Bearer",
		}, nil
	}

	return p.Refresh(ctx, userID)
}

// Refresh exchanges the user's refresh token for new credentials and
// persists them. Returns ErrAuthExpired when the exchange fails.
func (p *Provider) Refresh(ctx context.Context, userID string) (*oauth2.Token, error) {
	user, err := p.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if user.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token for user %s", ErrAuthExpired, userID)
	}

	src := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: user.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}

	// The provider may rotate the refresh token; keep the old one when it
	// does not.
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = user.RefreshToken
	}

	if err := p.store.UpdateTokens(ctx, userID, token.AccessToken, refreshToken, token.Expiry); err != nil {
		return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	token.RefreshToken = refreshToken
	return token, nil
}
