package records

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/feeds"

	"github.com/zhouzirui/genx/backend/internal/middleware"
	"github.com/zhouzirui/genx/backend/internal/model/generation"
	"github.com/zhouzirui/genx/backend/pkg/utils"
)

// Lister returns a user's records, newest first.
type Lister interface {
	ListRecords(ctx context.Context, userID string) ([]*generation.Record, error)
}

// Handler 生成记录的HTTP处理器
type Handler struct {
	records Lister
}

// New 创建记录处理器
func New(records Lister) *Handler {
	return &Handler{records: records}
}

// RegisterRoutes 注册记录路由，均需登录
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/records", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/", h.handleList)
		r.Get("/feed", h.handleFeed)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) ([]*generation.Record, bool) {
	id := middleware.IdentityFromContext(r.Context())
	list, err := h.records.ListRecords(r.Context(), id.User.ID)
	if err != nil {
		log.Printf("[records] list failed for user=%s: %v", id.User.ID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load records")
		return nil, false
	}
	return list, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, ok := h.list(w, r)
	if !ok {
		return
	}
	utils.RespondPrivateJSON(w, http.StatusOK, list)
}

// handleFeed 以Atom格式输出当前用户的生成记录
func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	list, ok := h.list(w, r)
	if !ok {
		return
	}

	id := middleware.IdentityFromContext(r.Context())
	feed := &feeds.Feed{
		Title:   "GenX generations of " + id.User.Name,
		Id:      "urn:genx:records:" + id.User.ID,
		Link:    &feeds.Link{Href: "/records"},
		Author:  &feeds.Author{Name: id.User.Name, Email: id.User.Email},
		Created: time.Now().UTC(),
	}
	if len(list) > 0 {
		feed.Updated = list[0].CreatedAt
	}

	feed.Items = make([]*feeds.Item, 0, len(list))
	for _, rec := range list {
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          "urn:genx:record:" + rec.ID,
			Title:       rec.Prompt,
			Link:        &feeds.Link{Href: rec.URL},
			Description: rec.Prompt,
			Created:     rec.CreatedAt,
		})
	}

	atom, err := feed.ToAtom()
	if err != nil {
		log.Printf("[records] render feed failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to render feed")
		return
	}

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(atom))
}
