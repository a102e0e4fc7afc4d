package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

type mockUserStore struct {
	users   map[string]*db.User
	updates int
}

func (s *mockUserStore) Get(_ context.Context, id string) (*db.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return user, nil
}

func (s *mockUserStore) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	s.updates++
	user := s.users[id]
	user.AccessToken = accessToken
	user.RefreshToken = refreshToken
	user.TokenExpiry = expiry
	return nil
}

func TestProviderTokenStillValid(t *testing.T) {
	store := &mockUserStore{users: map[string]*db.User{
		"u1": {
			ID:           "u1",
			AccessToken:  "valid",
			RefreshToken: "refresh",
			TokenExpiry:  time.Now().Add(time.Hour),
		},
	}}
	p := NewProvider(store, "id", "secret")

	tok, err := p.Token(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "valid" {
		t.Errorf("AccessToken = %q, want the stored token", tok.AccessToken)
	}
	if store.updates != 0 {
		t.Errorf("store updated %d times, want 0 for a valid token", store.updates)
	}
}

func TestProviderTokenMissingUser(t *testing.T) {
	p := NewProvider(&mockUserStore{users: map[string]*db.User{}}, "id", "secret")

	_, err := p.Token(context.Background(), "nobody")
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProviderRefreshWithoutRefreshToken(t *testing.T) {
	store := &mockUserStore{users: map[string]*db.User{
		"u1": {ID: "u1", AccessToken: "stale", TokenExpiry: time.Now().Add(-time.Hour)},
	}}
	p := NewProvider(store, "id", "secret")

	_, err := p.Refresh(context.Background(), "u1")
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("err = %v, want ErrAuthExpired", err)
	}
}

// doCreds scripts Do's credential provider.
type doCreds struct {
	token      *oauth2.Token
	tokenErr   error
	refreshed  *oauth2.Token
	refreshErr error
	refreshes  int
}

func (c *doCreds) Token(_ context.Context, _ string) (*oauth2.Token, error) {
	if c.tokenErr != nil {
		return nil, c.tokenErr
	}
	return c.token, nil
}

func (c *doCreds) Refresh(_ context.Context, _ string) (*oauth2.Token, error) {
	c.refreshes++
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	return c.refreshed, nil
}

func TestDo(t *testing.T) {
	first := &oauth2.Token{AccessToken: "first"}
	second := &oauth2.Token{AccessToken: "second"}

	t.Run("success needs no refresh", func(t *testing.T) {
		creds := &doCreds{token: first}
		calls := 0
		err := Do(context.Background(), creds, "u1", func(tok *oauth2.Token) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if calls != 1 || creds.refreshes != 0 {
			t.Errorf("calls = %d, refreshes = %d; want 1, 0", calls, creds.refreshes)
		}
	})

	t.Run("expired token retried once with the new credential", func(t *testing.T) {
		creds := &doCreds{token: first, refreshed: second}
		var seen []string
		err := Do(context.Background(), creds, "u1", func(tok *oauth2.Token) error {
			seen = append(seen, tok.AccessToken)
			if tok == first {
				return spotify.ErrTokenExpired
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if len(seen) != 2 || seen[0] != "first" || seen[1] != "second" {
			t.Errorf("fn saw tokens %v, want [first second]", seen)
		}
		if creds.refreshes != 1 {
			t.Errorf("refreshes = %d, want 1", creds.refreshes)
		}
	})

	t.Run("still expired after refresh surfaces the error", func(t *testing.T) {
		creds := &doCreds{token: first, refreshed: second}
		calls := 0
		err := Do(context.Background(), creds, "u1", func(_ *oauth2.Token) error {
			calls++
			return spotify.ErrTokenExpired
		})
		if !errors.Is(err, spotify.ErrTokenExpired) {
			t.Errorf("err = %v, want ErrTokenExpired", err)
		}
		if calls != 2 || creds.refreshes != 1 {
			t.Errorf("calls = %d, refreshes = %d; want 2, 1", calls, creds.refreshes)
		}
	})

	t.Run("refresh failure short-circuits", func(t *testing.T) {
		creds := &doCreds{token: first, refreshErr: ErrAuthExpired}
		calls := 0
		err := Do(context.Background(), creds, "u1", func(_ *oauth2.Token) error {
			calls++
			return spotify.ErrTokenExpired
		})
		if !errors.Is(err, ErrAuthExpired) {
			t.Errorf("err = %v, want ErrAuthExpired", err)
		}
		if calls != 1 {
			t.Errorf("fn called %d times, want 1", calls)
		}
	})

	t.Run("other errors propagate without refresh", func(t *testing.T) {
		creds := &doCreds{token: first}
		boom := errors.New("boom")
		err := Do(context.Background(), creds, "u1", func(_ *oauth2.Token) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want the original error", err)
		}
		if creds.refreshes != 0 {
			t.Errorf("refreshes = %d, want 0", creds.refreshes)
		}
	})
}
