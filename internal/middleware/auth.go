package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/zhouzirui/genx/backend/internal/model/user"
	"github.com/zhouzirui/genx/backend/internal/session"
	"github.com/zhouzirui/genx/backend/internal/store"
	"github.com/zhouzirui/genx/backend/pkg/utils"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "genx_session"

const (
	msgUnauthorized = "You are unauthorized!"
	msgNoUser       = "No user found"
	msgLookupFailed = "failed to load user"
)

// Identity is the caller resolved for one request. Session is nil for
// anonymous requests; User is nil when the session points at no user.
// Err holds a user lookup failure other than a missing user.
type Identity struct {
	Session *user.Session
	User    *user.User
	Err     error
}

// UserLookup resolves the user a session belongs to.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*user.User, error)
}

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity placed by Authenticate.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// TokenFromRequest reads the session token from the Authorization header or
// the session cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Authenticate resolves the caller's identity and puts it on the request
// context. It never rejects; RequireUser does.
func Authenticate(sessions session.Store, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			sess, err := sessions.Lookup(ctx, token)
			if err != nil {
				if !errors.Is(err, session.ErrNotFound) {
					log.Printf("[auth] session lookup failed: %v", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			id := Identity{Session: &sess}
			u, err := users.GetUser(ctx, sess.UserID)
			switch {
			case err == nil:
				id.User = u
			case !errors.Is(err, store.ErrNotFound):
				log.Printf("[auth] user lookup failed: %v", err)
				id.Err = err
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// RequireUser rejects requests without a session, and requests whose
// session has no user record, with 401. A failed user lookup is a 500.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id.Session == nil {
			utils.RespondError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if id.Err != nil {
			utils.RespondError(w, http.StatusInternalServerError, msgLookupFailed)
			return
		}
		if id.User == nil {
			log.Printf("[auth] session for user=%s has no user record", id.Session.UserID)
			utils.RespondError(w, http.StatusUnauthorized, msgNoUser)
			return
		}
		next.ServeHTTP(w, r)
	})
}
