package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/genx/backend/internal/handler/auth"
	"github.com/zhouzirui/genx/backend/internal/handler/generate"
	"github.com/zhouzirui/genx/backend/internal/handler/records"
	middlewarePkg "github.com/zhouzirui/genx/backend/internal/middleware"
	"github.com/zhouzirui/genx/backend/internal/service/oauth"
	"github.com/zhouzirui/genx/backend/internal/session"
	"github.com/zhouzirui/genx/backend/pkg/utils"
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies 路由所需的服务集合
type Dependencies struct {
	AllowedOrigins []string

	Generation generate.Service
	Records    records.Lister

	Sessions session.Store
	Users    interface {
		middlewarePkg.UserLookup
		auth.UserUpserter
	}

	// OAuth is nil when Google sign-in is not configured.
	OAuth        oauth.Provider
	StateSigner  *oauth.StateSigner
	CookieSecure bool

	DB Pinger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))
	r.Use(middlewarePkg.Authenticate(deps.Sessions, deps.Users))

	r.Get("/healthz", handleHealth(deps.DB))

	generate.New(deps.Generation).RegisterRoutes(r)
	records.New(deps.Records).RegisterRoutes(r)
	auth.New(deps.OAuth, deps.StateSigner, deps.Users, deps.Sessions, auth.Options{
		CookieSecure: deps.CookieSecure,
	}).RegisterRoutes(r)

	return r
}

func handleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Printf("[health] database ping failed: %v", err)
				utils.RespondError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
