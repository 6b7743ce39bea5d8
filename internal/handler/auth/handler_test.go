package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/genx/backend/internal/config"
	"github.com/zhouzirui/genx/backend/internal/middleware"
	"github.com/zhouzirui/genx/backend/internal/service/oauth"
	"github.com/zhouzirui/genx/backend/internal/session"
	"github.com/zhouzirui/genx/backend/internal/store"
)

type fakeProvider struct {
	profile *oauth.Profile
	err     error
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example/consent?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth.Profile, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.profile, nil
}

type testEnv struct {
	router   *chi.Mux
	db       *store.Store
	sessions *session.MemoryStore
}

func setupRouter(t *testing.T, provider oauth.Provider) *testEnv {
	t.Helper()
	db, err := store.Open(context.Background(), config.DatabaseConfig{URL: "sqlite://:memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessions := session.NewMemoryStore(time.Hour)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(sessions, db))
	New(provider, oauth.NewStateSigner("secret"), db, sessions, Options{}).RegisterRoutes(r)
	return &testEnv{router: r, db: db, sessions: sessions}
}

func findCookie(resp *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (env *testEnv) login(t *testing.T) (state string, stateCookie *http.Cookie) {
	t.Helper()
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	require.Equal(t, http.StatusFound, resp.Code)

	location, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	stateCookie = findCookie(resp, stateCookieName)
	require.NotNil(t, stateCookie)
	return location.Query().Get("state"), stateCookie
}

func TestLoginFlowCreatesSession(t *testing.T) {
	env := setupRouter(t, &fakeProvider{profile: &oauth.Profile{Name: "Ada", Email: "ada@example.com"}})
	state, stateCookie := env.login(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(stateCookie)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusFound, resp.Code, resp.Body.String())
	assert.Equal(t, "/", resp.Header().Get("Location"))

	sessionCookie := findCookie(resp, middleware.SessionCookieName)
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)

	u, err := env.db.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sessionCookie)
	resp = httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var me struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &me))
	assert.Equal(t, u.ID, me.User.ID)
	assert.Equal(t, "ada@example.com", me.User.Email)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(sessionCookie)
	resp = httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)

	_, err = env.sessions.Lookup(context.Background(), sessionCookie.Value)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCallbackRejectsBadState(t *testing.T) {
	env := setupRouter(t, &fakeProvider{profile: &oauth.Profile{Name: "Ada", Email: "ada@example.com"}})
	state, _ := env.login(t)

	// missing state cookie
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// forged state
	req = httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "whatever"})
	resp = httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	_, err := env.db.GetUserByEmail(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCallbackProviderFailure(t *testing.T) {
	env := setupRouter(t, &fakeProvider{err: oauth.ErrExchange})
	state, stateCookie := env.login(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(stateCookie)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Nil(t, findCookie(resp, middleware.SessionCookieName))
}

func TestLoginNotConfigured(t *testing.T) {
	env := setupRouter(t, nil)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestMeRequiresSession(t *testing.T) {
	env := setupRouter(t, nil)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
