package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/genx/backend/internal/config"
	"github.com/zhouzirui/genx/backend/internal/middleware"
	model "github.com/zhouzirui/genx/backend/internal/model/generation"
	"github.com/zhouzirui/genx/backend/internal/model/user"
	"github.com/zhouzirui/genx/backend/internal/service/generation"
	"github.com/zhouzirui/genx/backend/internal/service/upstream"
	"github.com/zhouzirui/genx/backend/internal/session"
	"github.com/zhouzirui/genx/backend/internal/store"
)

// upstream body split so that multi-byte runes straddle flushes
var storyParts = [][]byte{
	[]byte("# The fox\n\nOnce upon a time a caf"),
	[]byte("\xc3"),
	[]byte("\xa9 stood by the river. "),
	[]byte("\xe7\x8b"),
	[]byte("\x90 ran."),
}

func storyText() string {
	return string(bytes.Join(storyParts, nil))
}

type testEnv struct {
	router     *chi.Mux
	db         *store.Store
	upstream   *httptest.Server
	hits       *atomic.Int32
	user       *user.User
	token      string
	ghostToken string
}

func setupRouter(t *testing.T, timeout time.Duration, provider http.HandlerFunc) *testEnv {
	t.Helper()
	ctx := context.Background()

	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		provider(w, r)
	}))
	t.Cleanup(srv.Close)

	db, err := store.Open(ctx, config.DatabaseConfig{URL: "sqlite://:memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	u, err := db.UpsertUserByEmail(ctx, &user.User{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sessions := session.NewMemoryStore(time.Hour)
	sess, _ := sessions.Create(ctx, u.ID)
	ghost, _ := sessions.Create(ctx, "deleted-user")

	client := upstream.NewClient(upstream.Options{
		TextBaseURL:  srv.URL,
		ImageBaseURL: srv.URL,
		Timeout:      timeout,
		HTTPClient:   srv.Client(),
	})
	svc := generation.NewService(client, client, db, generation.Options{})

	r := chi.NewRouter()
	r.Use(middleware.Authenticate(sessions, db))
	New(svc).RegisterRoutes(r)

	return &testEnv{
		router:     r,
		db:         db,
		upstream:   srv,
		hits:       hits,
		user:       u,
		token:      sess.Token,
		ghostToken: ghost.Token,
	}
}

func serveStory(w http.ResponseWriter, _ *http.Request) {
	flusher := w.(http.Flusher)
	for _, part := range storyParts {
		_, _ = w.Write(part)
		flusher.Flush()
	}
}

func (env *testEnv) post(path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	return resp
}

func (env *testEnv) records(t *testing.T) []*model.Record {
	t.Helper()
	list, err := env.db.ListRecords(context.Background(), env.user.ID)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	return list
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", resp.Body.String(), err)
	}
	return body["error"]
}

func TestGenerateRequiresSession(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	for _, path := range []string{"/generate/image", "/generate/text"} {
		resp := env.post(path, "", `{"prompt":"a red fox"}`)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.Code)
		}
		if msg := decodeError(t, resp); msg != "You are unauthorized!" {
			t.Fatalf("%s: unexpected message %q", path, msg)
		}
	}
	if env.hits.Load() != 0 {
		t.Fatalf("unauthenticated requests must not reach upstream")
	}
	if len(env.records(t)) != 0 {
		t.Fatalf("unauthenticated requests must not write records")
	}
}

func TestGenerateSessionWithoutUser(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	resp := env.post("/generate/image", env.ghostToken, `{"prompt":"a red fox"}`)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if msg := decodeError(t, resp); msg != "No user found" {
		t.Fatalf("unexpected message %q", msg)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestGenerateImageShortPrompt(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	resp := env.post("/generate/image", env.token, `{"prompt":"hi"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("invalid prompts must not reach upstream")
	}
	if len(env.records(t)) != 0 {
		t.Fatalf("invalid prompts must not write records")
	}
}

func TestGenerateRejectsMalformedBodies(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	tooLong := `{"prompt":"` + strings.Repeat("x", 501) + `"}`
	oversized := `{"prompt":"` + strings.Repeat("x", 20000) + `"}`
	cases := map[string]string{
		`{"prompt":`:         "invalid request body",
		`{}`:                 "prompt is required",
		`{"prompt":null}`:    "prompt is required",
		`{"prompt":42}`:      "prompt must be a string",
		`{"prompt":"     "}`: "prompt must not be blank",
		tooLong:              "prompt must be at most 500 characters",
		oversized:            "request body too large",
	}
	for body, want := range cases {
		resp := env.post("/generate/text", env.token, body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, resp.Code)
		}
		if msg := decodeError(t, resp); msg != want {
			t.Fatalf("%s: expected %q, got %q", body, want, msg)
		}
	}
	if env.hits.Load() != 0 {
		t.Fatalf("invalid requests must not reach upstream")
	}
}

func TestGenerateImagePaddedBodyIsBadRequest(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	body := `{"prompt":"a red fox` + strings.Repeat(" ", 20000) + `"}`
	resp := env.post("/generate/image", env.token, body)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if msg := decodeError(t, resp); msg != "request body too large" {
		t.Fatalf("unexpected message %q", msg)
	}
	if env.hits.Load() != 0 || len(env.records(t)) != 0 {
		t.Fatalf("oversized requests must not reach upstream or write records")
	}
}

func TestGenerateImageUpstreamFailure(t *testing.T) {
	env := setupRouter(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider exploded", http.StatusInternalServerError)
	})

	resp := env.post("/generate/image", env.token, `{"prompt":"a red fox"}`)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	if msg := decodeError(t, resp); msg != "upstream request failed" {
		t.Fatalf("unexpected message %q", msg)
	}
	if len(env.records(t)) != 0 {
		t.Fatalf("failed generations must not write records")
	}
}

func TestGenerateImageRedFox(t *testing.T) {
	env := setupRouter(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	})

	resp := env.post("/generate/image", env.token, `{"prompt":"a red fox"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(env.upstream.URL+"/prompt/a%20red%20fox?seed=") + `(\d+)$`)
	m := pattern.FindStringSubmatch(body.URL)
	if m == nil {
		t.Fatalf("unexpected url %q", body.URL)
	}
	seed, _ := strconv.Atoi(m[1])
	if seed < model.MinSeed || seed > model.MaxSeed {
		t.Fatalf("seed %d out of range", seed)
	}

	list := env.records(t)
	if len(list) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(list))
	}
	rec := list[0]
	if rec.Prompt != "a red fox" || rec.UserID != env.user.ID || rec.URL != body.URL || rec.Seed != seed {
		t.Fatalf("unexpected record %+v", rec)
	}
	if env.hits.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", env.hits.Load())
	}
}

func TestGenerateImageGetIsNoop(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	req := httptest.NewRequest(http.MethodGet, "/generate/image", nil)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || strings.TrimSpace(resp.Body.String()) != "[]" {
		t.Fatalf("unexpected response %d %q", resp.Code, resp.Body.String())
	}
}

func TestGenerateTextBuffered(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	resp := env.post("/generate/text", env.token, `{"prompt":"tell me a fox story"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		URL          string `json:"url"`
		StreamedText string `json:"streamedText"`
		HTML         string `json:"html"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.StreamedText != storyText() {
		t.Fatalf("unexpected text %q", body.StreamedText)
	}
	if !strings.HasPrefix(body.URL, env.upstream.URL+"/prompt/tell%20me%20a%20fox%20story?seed=") {
		t.Fatalf("unexpected url %q", body.URL)
	}
	if !strings.Contains(body.HTML, "<h1>The fox</h1>") {
		t.Fatalf("expected rendered markdown, got %q", body.HTML)
	}
	if resp.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("private responses must not be cached")
	}
	if len(env.records(t)) != 0 {
		t.Fatalf("text generation must not write records")
	}
}

func TestGenerateTextStreamFidelity(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)

	for _, tc := range []struct {
		name    string
		body    string
		headers []string
	}{
		{"stream flag", `{"prompt":"tell me a fox story","stream":true}`, nil},
		{"accept header", `{"prompt":"tell me a fox story"}`, []string{"Accept", "text/plain"}},
	} {
		resp := env.post("/generate/text", env.token, tc.body, tc.headers...)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.name, resp.Code)
		}
		if got := resp.Body.String(); got != storyText() {
			t.Fatalf("%s: relayed body %q differs from upstream %q", tc.name, got, storyText())
		}
		if ct := resp.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
			t.Fatalf("%s: unexpected content type %q", tc.name, ct)
		}
		if cc := resp.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
			t.Fatalf("%s: unexpected cache control %q", tc.name, cc)
		}
		if !resp.Flushed {
			t.Fatalf("%s: expected flushed chunks", tc.name)
		}
	}
}

func TestGenerateTextTimeout(t *testing.T) {
	env := setupRouter(t, 50*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	resp := env.post("/generate/text", env.token, `{"prompt":"tell me a fox story"}`)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	if msg := decodeError(t, resp); msg != "upstream service unavailable" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestTextWebSocket(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/generate/text/ws"
	header := http.Header{"Authorization": []string{"Bearer " + env.token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"prompt": "tell me a fox story"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var text strings.Builder
	var started bool
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch msg.Type {
		case "start":
			started = true
			if !strings.HasPrefix(msg.URL, env.upstream.URL+"/prompt/") {
				t.Fatalf("unexpected start url %q", msg.URL)
			}
		case "delta":
			text.WriteString(msg.Content)
		case "end":
			if !started {
				t.Fatalf("end before start")
			}
			if text.String() != storyText() {
				t.Fatalf("websocket text %q differs from upstream %q", text.String(), storyText())
			}
			return
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}
}

func TestTextWebSocketOversizedPrompt(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/generate/text/ws"
	header := http.Header{"Authorization": []string{"Bearer " + env.token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"prompt": strings.Repeat("x", 20000)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" || msg.Error != "request body too large" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("oversized prompt must not reach upstream")
	}
}

func TestTextWebSocketRequiresSession(t *testing.T) {
	env := setupRouter(t, time.Second, serveStory)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/generate/text/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestSplitComplete(t *testing.T) {
	complete, rest := splitComplete([]byte("caf\xc3"))
	if string(complete) != "caf" || string(rest) != "\xc3" {
		t.Fatalf("unexpected split %q %q", complete, rest)
	}
	complete, rest = splitComplete([]byte("狐"))
	if string(complete) != "狐" || rest != nil {
		t.Fatalf("complete rune must not be held back")
	}
	complete, rest = splitComplete(nil)
	if len(complete) != 0 || rest != nil {
		t.Fatalf("unexpected split of empty input")
	}
}
