package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/genx/backend/internal/middleware"
	"github.com/zhouzirui/genx/backend/internal/model/user"
	"github.com/zhouzirui/genx/backend/internal/service/oauth"
	"github.com/zhouzirui/genx/backend/internal/session"
	"github.com/zhouzirui/genx/backend/pkg/utils"
)

const stateCookieName = "genx_oauth_state"

// UserUpserter creates or refreshes a user from an identity provider profile.
type UserUpserter interface {
	UpsertUserByEmail(ctx context.Context, profile *user.User) (*user.User, error)
}

// Options controls cookies and redirects.
type Options struct {
	CookieSecure bool
	// AfterLoginURL is where the callback redirects on success.
	AfterLoginURL string
}

// Handler 登录相关的HTTP处理器
type Handler struct {
	provider oauth.Provider
	signer   *oauth.StateSigner
	users    UserUpserter
	sessions session.Store
	opts     Options
}

// New 创建登录处理器。provider 为 nil 时登录接口返回 503。
func New(provider oauth.Provider, signer *oauth.StateSigner, users UserUpserter, sessions session.Store, opts Options) *Handler {
	if opts.AfterLoginURL == "" {
		opts.AfterLoginURL = "/"
	}
	return &Handler{
		provider: provider,
		signer:   signer,
		users:    users,
		sessions: sessions,
		opts:     opts,
	}
}

// RegisterRoutes 注册登录路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", h.handleLogin)
		r.Get("/google/callback", h.handleCallback)
		r.Post("/logout", h.handleLogout)
		r.With(middleware.RequireUser).Get("/me", h.handleMe)
	})
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
		cookie.Expires = time.Now().Add(maxAge)
	} else {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "sign-in is not configured")
		return
	}

	state, nonce, err := h.signer.Issue()
	if err != nil {
		log.Printf("[auth] issue state failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}

	h.setCookie(w, stateCookieName, nonce, 10*time.Minute)
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "sign-in is not configured")
		return
	}

	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		log.Printf("[auth] provider returned error=%s", reason)
		utils.RespondError(w, http.StatusUnauthorized, "sign-in was cancelled")
		return
	}

	nonce, err := h.signer.Verify(query.Get("state"))
	cookie, cookieErr := r.Cookie(stateCookieName)
	if err != nil || cookieErr != nil || cookie.Value != nonce {
		utils.RespondError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	h.setCookie(w, stateCookieName, "", 0)

	code := query.Get("code")
	if code == "" {
		utils.RespondError(w, http.StatusBadRequest, "authorization code is required")
		return
	}

	profile, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		log.Printf("[auth] exchange failed: %v", err)
		if errors.Is(err, oauth.ErrEmailMissing) || errors.Is(err, oauth.ErrEmailUnverified) {
			utils.RespondError(w, http.StatusForbidden, "a verified email address is required")
			return
		}
		utils.RespondError(w, http.StatusBadGateway, "identity provider request failed")
		return
	}

	u, err := h.users.UpsertUserByEmail(r.Context(), &user.User{
		Name:  profile.Name,
		Email: profile.Email,
		Image: profile.Image,
	})
	if err != nil {
		log.Printf("[auth] upsert user failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save user")
		return
	}

	sess, err := h.sessions.Create(r.Context(), u.ID)
	if err != nil {
		log.Printf("[auth] create session failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setCookie(w, middleware.SessionCookieName, sess.Token, time.Until(sess.ExpiresAt))
	log.Printf("[auth] user=%s signed in", u.ID)
	http.Redirect(w, r, h.opts.AfterLoginURL, http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r); token != "" {
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			log.Printf("[auth] revoke session failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to sign out")
			return
		}
	}
	h.setCookie(w, middleware.SessionCookieName, "", 0)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	utils.RespondPrivateJSON(w, http.StatusOK, map[string]any{
		"user":      id.User,
		"expiresAt": id.Session.ExpiresAt,
	})
}
