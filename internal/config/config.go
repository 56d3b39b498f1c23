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

	rt "github.com/cheqin-app/backend/internal/service/realtime"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Scoring  ScoringConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	scoring, err := loadScoringConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Realtime: realtime, Scoring: scoring}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// RealtimeConfig 描述实时语音会话相关配置。
type RealtimeConfig struct {
	APIKey      string
	Model       string
	Voice       string
	BaseURL     string
	SessionURL  string
	IdleTimeout time.Duration
	// MaxTurns <= 0 时不做轮数截止。
	MaxTurns int
	// CaptureTool 非空时固定录音工具（sox/arecord/ffmpeg）。
	CaptureTool string
}

// Enabled 表示是否提供了实时会话必需的密钥。
func (c RealtimeConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	idleTimeout := rt.DefaultIdleTimeout
	if raw := strings.TrimSpace(os.Getenv("CHECKIN_IDLE_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return RealtimeConfig{}, fmt.Errorf("invalid CHECKIN_IDLE_TIMEOUT value %q: %w", raw, err)
		}
		if parsed <= 0 {
			return RealtimeConfig{}, fmt.Errorf("CHECKIN_IDLE_TIMEOUT must be positive, got %q", raw)
		}
		idleTimeout = parsed
	}

	// CHECKIN_MAX_TURNS <= 0 关闭轮数截止，未设置时用默认上限
	maxTurns := rt.DefaultMaxTurns
	if override, err := parseOptionalIntEnv("CHECKIN_MAX_TURNS"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		maxTurns = *override
	}

	return RealtimeConfig{
		APIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:       getEnvOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		Voice:       getEnvOrDefault("REALTIME_VOICE", "sage"),
		BaseURL:     getEnvOrDefault("REALTIME_BASE_URL", "wss://api.openai.com/v1/realtime"),
		SessionURL:  getEnvOrDefault("REALTIME_SESSION_URL", "https://api.openai.com/v1/realtime/sessions"),
		IdleTimeout: idleTimeout,
		MaxTurns:    maxTurns,
		CaptureTool: strings.TrimSpace(os.Getenv("CHECKIN_CAPTURE_TOOL")),
	}, nil
}

// ScoringConfig 描述打分模型相关配置。
type ScoringConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c ScoringConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c ScoringConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + SCORING_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
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
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadScoringConfig() (ScoringConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return ScoringConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return ScoringConfig{}, err
	}

	return ScoringConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("SCORING_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
