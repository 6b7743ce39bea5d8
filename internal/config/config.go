package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// 文本生成后端
const (
	TextBackendPollinations = "pollinations"
	TextBackendArk          = "ark"
)

// 会话存储实现
const (
	SessionStoreSQL    = "sql"
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	AI       AIConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Session  SessionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	upstream, err := loadUpstreamConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}
	if upstream.TextBackend == TextBackendArk && !ai.Enabled() {
		return nil, fmt.Errorf("TEXT_BACKEND=ark requires ARK_API_KEY (or ARK_ACCESS_KEY + ARK_SECRET_KEY) and Model")
	}

	database, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	auth := loadAuthConfig()
	if auth.Enabled() && auth.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required when Google login is configured")
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Upstream: upstream,
		AI:       ai,
		Database: database,
		Auth:     auth,
		Session:  session,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// UpstreamConfig 描述第三方生成服务的访问方式与提示词约束。
type UpstreamConfig struct {
	TextBaseURL     string
	ImageBaseURL    string
	Timeout         time.Duration
	TextBackend     string
	PromptMinLength int
	PromptMaxLength int
}

func loadUpstreamConfig() (UpstreamConfig, error) {
	timeout, err := parseDurationSecondsEnv("UPSTREAM_TIMEOUT", 10*time.Second)
	if err != nil {
		return UpstreamConfig{}, err
	}

	minLength, err := parseIntEnv("PROMPT_MIN_LENGTH", 7)
	if err != nil {
		return UpstreamConfig{}, err
	}
	maxLength, err := parseIntEnv("PROMPT_MAX_LENGTH", 500)
	if err != nil {
		return UpstreamConfig{}, err
	}
	if minLength < 1 {
		return UpstreamConfig{}, fmt.Errorf("PROMPT_MIN_LENGTH must be at least 1, got %d", minLength)
	}
	if maxLength < minLength {
		return UpstreamConfig{}, fmt.Errorf("PROMPT_MAX_LENGTH (%d) must not be below PROMPT_MIN_LENGTH (%d)", maxLength, minLength)
	}

	backend := strings.ToLower(getEnvOrDefault("TEXT_BACKEND", TextBackendPollinations))
	switch backend {
	case TextBackendPollinations, TextBackendArk:
	default:
		return UpstreamConfig{}, fmt.Errorf("invalid TEXT_BACKEND value: %q", backend)
	}

	return UpstreamConfig{
		TextBaseURL:     strings.TrimRight(getEnvOrDefault("TEXT_PROVIDER_URL", "https://text.pollinations.ai"), "/"),
		ImageBaseURL:    strings.TrimRight(getEnvOrDefault("IMAGE_PROVIDER_URL", "https://image.pollinations.ai"), "/"),
		Timeout:         timeout,
		TextBackend:     backend,
		PromptMinLength: minLength,
		PromptMaxLength: maxLength,
	}, nil
}

// AIConfig 描述 Ark 大模型相关配置，仅在 TEXT_BACKEND=ark 时使用。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// DatabaseConfig 描述关系型数据库连接与连接池。
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	maxOpen, err := parseIntEnv("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return DatabaseConfig{}, err
	}
	maxIdle, err := parseIntEnv("DB_MAX_IDLE_CONNS", 25)
	if err != nil {
		return DatabaseConfig{}, err
	}
	lifetime, err := parseDurationSecondsEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return DatabaseConfig{}, err
	}

	return DatabaseConfig{
		URL:             getEnvOrDefault("DATABASE_URL", "sqlite://genx.db"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: lifetime,
	}, nil
}

// AuthConfig 描述 Google 登录所需的凭证。
type AuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	RedirectURL        string
	SessionSecret      string
}

// Enabled 表示是否配置了 Google OAuth 客户端。
func (c AuthConfig) Enabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		GoogleClientID:     strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
		RedirectURL:        getEnvOrDefault("OAUTH_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),
		SessionSecret:      strings.TrimSpace(os.Getenv("SESSION_SECRET")),
	}
}

// SessionConfig 描述登录会话的存储与生命周期。
type SessionConfig struct {
	Store        string
	RedisAddr    string
	TTL          time.Duration
	CleanupSpec  string
	CookieSecure bool
}

func loadSessionConfig() (SessionConfig, error) {
	store := strings.ToLower(getEnvOrDefault("SESSION_STORE", SessionStoreSQL))
	switch store {
	case SessionStoreSQL, SessionStoreRedis, SessionStoreMemory:
	default:
		return SessionConfig{}, fmt.Errorf("invalid SESSION_STORE value: %q", store)
	}

	ttlHours, err := parseIntEnv("SESSION_TTL", 720)
	if err != nil {
		return SessionConfig{}, err
	}
	if ttlHours < 1 {
		return SessionConfig{}, fmt.Errorf("SESSION_TTL must be at least 1 hour, got %d", ttlHours)
	}

	secure, err := parseBoolEnv("SESSION_COOKIE_SECURE", true)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		Store:        store,
		RedisAddr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		TTL:          time.Duration(ttlHours) * time.Hour,
		CleanupSpec:  getEnvOrDefault("SESSION_CLEANUP_SPEC", "@every 1h"),
		CookieSecure: secure,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *val)
	}
	return time.Duration(*val) * time.Second, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
