package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	zspotify "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/beatscore/beatscore/internal/auth"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/groups"
	"github.com/beatscore/beatscore/internal/score"
	"github.com/beatscore/beatscore/internal/spotify"
)

const (
	stateCookieName = "oauth_state"
	sessionTTL      = 7 * 24 * time.Hour
	searchLimit     = 20
)

// Handlers contains the HTTP handlers.
type Handlers struct {
	auth      *spotifyauth.Authenticator
	users     *db.UserRepository
	groups    *groups.Service
	score     *score.Service
	upstream  *spotify.Client
	creds     auth.CredentialProvider
	jwtSecret []byte
	logger    *log.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(authenticator *spotifyauth.Authenticator, users *db.UserRepository, groupSvc *groups.Service, scoreSvc *score.Service, upstream *spotify.Client, creds auth.CredentialProvider, jwtSecret string, logger *log.Logger) *Handlers {
	return &Handlers{
		auth:      authenticator,
		users:     users,
		groups:    groupSvc,
		score:     scoreSvc,
		upstream:  upstream,
		creds:     creds,
		jwtSecret: []byte(jwtSecret),
		logger:    logger.With("component", "web"),
	}
}

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback (GET /callback): it exchanges the
// code, upserts the user with their credentials, and issues a session
// token.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	token, err := h.auth.Token(r.Context(), stateCookie.Value, r)
	if err != nil {
		http.Error(w, "exchanging code failed", http.StatusBadRequest)
		return
	}

	profile, err := zspotify.New(h.auth.Client(r.Context(), token)).CurrentUser(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	user := &db.User{
		SpotifyID:    profile.ID,
		DisplayName:  profile.DisplayName,
		Email:        profile.Email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
	}
	if len(profile.Images) > 0 {
		user.PhotoURL = &profile.Images[0].URL
	}
	if err := h.users.Upsert(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	sessionToken, err := h.signSession(user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("user logged in", "user", user.ID)
	respondJSON(w, http.StatusOK, map[string]string{"access_token": sessionToken})
}

func (h *Handlers) signSession(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
}

type ctxKey struct{}

// RequireAuth validates the bearer session token and stashes the caller's
// user ID in the request context.
func (h *Handlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(header[len(prefix):], &claims,
			func(*jwt.Token) (any, error) { return h.jwtSecret, nil },
			jwt.WithValidMethods([]string{"HS256"}),
		)
		if err != nil || claims.Subject == "" {
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated caller's user ID.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// CreateGroup handles POST /groups.
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	group, err := h.groups.Create(r.Context(), body.Name, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, group)
}

// MyGroups handles GET /groups.
func (h *Handlers) MyGroups(w http.ResponseWriter, r *http.Request) {
	list, err := h.groups.UserGroups(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// GroupDetail handles GET /groups/{id}.
func (h *Handlers) GroupDetail(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}

	view, err := h.groups.GetWithMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// JoinGroup handles POST /groups/join.
func (h *Handlers) JoinGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupID string `json:"groupId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "groupId required", http.StatusBadRequest)
		return
	}
	groupID, err := uuid.Parse(body.GroupID)
	if err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}

	member, err := h.groups.Join(r.Context(), groupID, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, member)
}

// InviteCode handles GET /groups/invite-code/{id}.
func (h *Handlers) InviteCode(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}

	code, err := h.groups.InviteCode(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"code": code, "groupId": groupID.String()})
}

// JoinByCode handles POST /groups/join-by-code.
func (h *Handlers) JoinByCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	member, err := h.groups.JoinByCode(r.Context(), body.Code, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, member)
}

// UpdateMemberTracks handles POST /groups/{id}/update-tracks: it refreshes
// the caller's own snapshots in the group and returns the group view.
func (h *Handlers) UpdateMemberTracks(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}

	member, err := h.groups.MemberOf(r.Context(), groupID, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.score.RefreshCurrentTrack(r.Context(), member.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.score.RefreshTopTrack(r.Context(), member.ID); err != nil {
		writeError(w, err)
		return
	}

	view, err := h.groups.GetWithMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Recommend handles POST /members/{id}/recommend.
func (h *Handlers) Recommend(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	var body struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Artist string `json:"artist"`
		Image  string `json:"image"`
		URL    string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		http.Error(w, "track required", http.StatusBadRequest)
		return
	}

	rec, err := h.groups.Recommend(r.Context(), memberID, spotify.Track{
		ID:     body.ID,
		Name:   body.Name,
		Artist: body.Artist,
		Image:  body.Image,
		URL:    body.URL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// Recommendations handles GET /members/{id}/recommendations.
func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	recs, err := h.groups.Recommendations(r.Context(), memberID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

// Score handles GET /score: it recomputes and returns the caller's score.
func (h *Handlers) Score(w http.ResponseWriter, r *http.Request) {
	result, err := h.score.ComputeAndApply(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Search handles GET /search?q=...&limit=...
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q required", http.StatusBadRequest)
		return
	}
	limit := searchLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 50 {
		limit = n
	}

	var tracks []spotify.Track
	err := auth.Do(r.Context(), h.creds, userID(r), func(tok *oauth2.Token) error {
		var err error
		tracks, err = h.upstream.SearchTracks(r.Context(), tok, query, limit)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tracks)
}

// TrackGenres handles GET /tracks/{id}/genres, composing track and artist
// metadata.
func (h *Handlers) TrackGenres(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "id")

	var genres []string
	err := auth.Do(r.Context(), h.creds, userID(r), func(tok *oauth2.Token) error {
		track, err := h.upstream.GetTrack(r.Context(), tok, trackID)
		if err != nil {
			return err
		}
		if track.ArtistID == "" {
			return nil
		}
		artist, err := h.upstream.GetArtist(r.Context(), tok, track.ArtistID)
		if err != nil {
			return err
		}
		genres = artist.Genres
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if genres == nil {
		genres = []string{}
	}
	respondJSON(w, http.StatusOK, map[string][]string{"genres": genres})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrAuthExpired):
		status = http.StatusUnauthorized
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
