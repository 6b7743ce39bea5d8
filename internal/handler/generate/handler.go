package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/zhouzirui/genx/backend/internal/middleware"
	model "github.com/zhouzirui/genx/backend/internal/model/generation"
	"github.com/zhouzirui/genx/backend/internal/service/generation"
	"github.com/zhouzirui/genx/backend/internal/service/upstream"
	"github.com/zhouzirui/genx/backend/pkg/utils"
)

// maxRequestBytes bounds the JSON request body.
const maxRequestBytes = 16 << 10

const msgTooLarge = "request body too large"

// Service is the generation core used by the handler.
type Service interface {
	StreamText(ctx context.Context, prompt string) (*upstream.Generation, *schema.StreamReader[[]byte], error)
	GenerateText(ctx context.Context, prompt string) (*generation.TextResult, error)
	GenerateImage(ctx context.Context, userID, prompt string) (*model.Record, error)
}

// Handler 生成接口的HTTP处理器
type Handler struct {
	svc      Service
	markdown goldmark.Markdown
	upgrader websocket.Upgrader
}

// New 创建生成处理器
func New(svc Service) *Handler {
	return &Handler{
		svc:      svc,
		markdown: goldmark.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册生成相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/generate", func(r chi.Router) {
		r.Get("/image", h.handleListImagesNoop)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/text", h.handleText)
			r.Get("/text/ws", h.handleTextWebSocket)
			r.Post("/image", h.handleImage)
		})
	})
}

type generateRequest struct {
	Prompt string
	Stream bool
}

// parseRequest decodes {"prompt": string, "stream": bool}. The returned
// message is empty on success.
func parseRequest(data []byte) (generateRequest, string) {
	var payload struct {
		Prompt json.RawMessage `json:"prompt"`
		Stream bool            `json:"stream"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return generateRequest{}, "invalid request body"
	}

	raw := bytes.TrimSpace(payload.Prompt)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return generateRequest{}, "prompt is required"
	}

	var prompt string
	if err := json.Unmarshal(raw, &prompt); err != nil {
		return generateRequest{}, "prompt must be a string"
	}
	return generateRequest{Prompt: prompt, Stream: payload.Stream}, ""
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (generateRequest, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusBadRequest, msgTooLarge)
			return generateRequest{}, false
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return generateRequest{}, false
	}

	req, msg := parseRequest(data)
	if msg != "" {
		utils.RespondError(w, http.StatusBadRequest, msg)
		return generateRequest{}, false
	}
	return req, true
}

// errorStatus maps a generation error onto an HTTP status and message.
func errorStatus(err error) (int, string) {
	var invalid *generation.InvalidPromptError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Reason
	case errors.Is(err, upstream.ErrTimeout):
		return http.StatusBadGateway, upstream.ErrTimeout.Error()
	case errors.Is(err, upstream.ErrRequest),
		errors.Is(err, upstream.ErrStatus),
		errors.Is(err, upstream.ErrNoBody):
		return http.StatusBadGateway, upstream.ErrRequest.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func respondGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		log.Printf("[generate] client went away: %v", err)
		return
	}
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[generate] %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	utils.RespondError(w, status, msg)
}

func wantsStream(r *http.Request, req generateRequest) bool {
	return req.Stream || strings.HasPrefix(r.Header.Get("Accept"), "text/plain")
}

// handleText 文本生成：默认返回JSON，stream 为 true 时透传上游字节流
func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if wantsStream(r, req) {
		h.streamText(w, r, req.Prompt)
		return
	}

	result, err := h.svc.GenerateText(r.Context(), req.Prompt)
	if err != nil {
		respondGenerationError(w, r, err)
		return
	}

	var html bytes.Buffer
	if err := h.markdown.Convert([]byte(result.Text), &html); err != nil {
		log.Printf("[generate] markdown render failed: %v", err)
		html.Reset()
	}

	utils.RespondPrivateJSON(w, http.StatusOK, map[string]any{
		"url":          result.URL,
		"streamedText": result.Text,
		"html":         html.String(),
	})
}

func (h *Handler) streamText(w http.ResponseWriter, r *http.Request, prompt string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	gen, sr, err := h.svc.StreamText(r.Context(), prompt)
	if err != nil {
		respondGenerationError(w, r, err)
		return
	}
	defer sr.Close()

	utils.SetupTextStreamHeaders(w, gen.URL, gen.Seed)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var relayed int
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			log.Printf("[generate] text stream done seed=%d bytes=%d", gen.Seed, relayed)
			return
		}
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			// 响应头已发出，只能中断连接让客户端感知截断
			log.Printf("[generate] text stream aborted after %d bytes: %v", relayed, err)
			panic(http.ErrAbortHandler)
		}
		if err := utils.WriteChunk(w, flusher, chunk); err != nil {
			log.Printf("[generate] client write failed: %v", err)
			return
		}
		relayed += len(chunk)
	}
}

// handleImage 图片生成：确认上游成功后写入一条生成记录
func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	id := middleware.IdentityFromContext(r.Context())
	record, err := h.svc.GenerateImage(r.Context(), id.User.ID, req.Prompt)
	if err != nil {
		respondGenerationError(w, r, err)
		return
	}

	utils.RespondPrivateJSON(w, http.StatusOK, map[string]string{"url": record.URL})
}

func (h *Handler) handleListImagesNoop(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, []any{})
}
