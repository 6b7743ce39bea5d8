package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/genx/backend/internal/config"
	"github.com/zhouzirui/genx/backend/internal/handler"
	"github.com/zhouzirui/genx/backend/internal/service/generation"
	"github.com/zhouzirui/genx/backend/internal/service/oauth"
	"github.com/zhouzirui/genx/backend/internal/service/upstream"
	"github.com/zhouzirui/genx/backend/internal/session"
	"github.com/zhouzirui/genx/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	sessions, err := newSessionStore(ctx, cfg.Session, db)
	if err != nil {
		log.Fatalf("failed to initialize session store: %v", err)
	}

	client := upstream.NewClient(upstream.Options{
		TextBaseURL:  cfg.Upstream.TextBaseURL,
		ImageBaseURL: cfg.Upstream.ImageBaseURL,
		Timeout:      cfg.Upstream.Timeout,
	})

	var text generation.TextGenerator = client
	if cfg.Upstream.TextBackend == config.TextBackendArk {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Fatalf("failed to create Ark chat model: %v", err)
		}
		text = upstream.NewArkGenerator(chatModel, cfg.AI.Model, cfg.Upstream.Timeout)
		log.Printf("text generation backed by Ark model %s", cfg.AI.Model)
	} else {
		log.Printf("text generation backed by %s", cfg.Upstream.TextBaseURL)
	}

	genSvc := generation.NewService(text, client, db, generation.Options{
		MinPromptLength: cfg.Upstream.PromptMinLength,
		MaxPromptLength: cfg.Upstream.PromptMaxLength,
	})

	deps := handler.Dependencies{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Generation:     genSvc,
		Records:        genSvc,
		Sessions:       sessions,
		Users:          db,
		CookieSecure:   cfg.Session.CookieSecure,
		DB:             db,
	}
	if cfg.Auth.Enabled() {
		deps.OAuth = oauth.NewGoogleProvider(cfg.Auth)
		deps.StateSigner = oauth.NewStateSigner(cfg.Auth.SessionSecret)
		log.Println("Google sign-in enabled")
	} else {
		log.Println("Google OAuth 凭证未配置，登录接口将返回 503")
	}

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router)
}

// newSessionStore 按配置选择会话存储，并为需要的实现启动过期清理任务。
func newSessionStore(ctx context.Context, cfg config.SessionConfig, db *store.Store) (session.Store, error) {
	var sessions session.Store
	switch cfg.Store {
	case config.SessionStoreRedis:
		redisStore, err := session.NewRedisStore(cfg.RedisAddr, cfg.TTL)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			_ = redisStore.Close()
		}()
		log.Printf("sessions stored in redis at %s", cfg.RedisAddr)
		return redisStore, nil
	case config.SessionStoreMemory:
		sessions = session.NewMemoryStore(cfg.TTL)
		log.Println("sessions stored in memory; they will not survive a restart")
	default:
		sessions = session.NewSQLStore(db, cfg.TTL)
	}

	if pruner, ok := sessions.(session.Pruner); ok {
		if _, err := session.StartCleanup(ctx, cfg.CleanupSpec, pruner); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("GenX backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
