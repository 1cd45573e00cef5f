package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/chat"
	"github.com/zhouzirui/companion-chat/internal/transport"
)

// Config 聚合服务端与客户端的配置项。
type Config struct {
	Server ServerConfig
	Client ClientConfig
	AI     AIConfig
	Store  StoreConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值范围。
func (c *Config) Validate() error {
	if _, err := c.Server.Addr(); err != nil {
		return err
	}
	if c.Server.PingInterval <= 0 || c.Server.PingTimeout <= 0 {
		return errors.New("PING_INTERVAL and PING_TIMEOUT must be positive")
	}
	if c.Server.HistoryLimit < 0 {
		return fmt.Errorf("invalid HISTORY_LIMIT value: %d", c.Server.HistoryLimit)
	}
	if len(c.Client.Transports) == 0 {
		return errors.New("CHAT_TRANSPORTS must name at least one transport")
	}
	for _, name := range c.Client.Transports {
		if name != transport.TransportWebSocket && name != transport.TransportPolling {
			return fmt.Errorf("invalid CHAT_TRANSPORTS entry: %q", name)
		}
	}
	if c.Client.MaxAttempts < 1 {
		return fmt.Errorf("invalid CHAT_MAX_ATTEMPTS value: %d", c.Client.MaxAttempts)
	}
	return nil
}

// ServerConfig 描述参考服务端配置。
type ServerConfig struct {
	Port          string        `envconfig:"PORT" default:"8000"`
	PingInterval  time.Duration `envconfig:"PING_INTERVAL" default:"25s"`
	PingTimeout   time.Duration `envconfig:"PING_TIMEOUT" default:"20s"`
	HistoryLimit  int           `envconfig:"HISTORY_LIMIT" default:"20"`
	PromptHistory int           `envconfig:"PROMPT_HISTORY" default:"10"`
	ChunkDelay    time.Duration `envconfig:"CHUNK_DELAY" default:"50ms"`
}

// Addr 解析服务器监听地址。
func (c ServerConfig) Addr() (string, error) {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// ClientConfig 描述聊天客户端配置。
type ClientConfig struct {
	ServerURL      string        `envconfig:"CHAT_SERVER_URL" default:"http://localhost:8000"`
	Path           string        `envconfig:"CHAT_PATH" default:"/socket.io/"`
	Transports     []string      `envconfig:"CHAT_TRANSPORTS" default:"websocket,polling"`
	ConnectTimeout time.Duration `envconfig:"CHAT_CONNECT_TIMEOUT" default:"10s"`
	MaxAttempts    int           `envconfig:"CHAT_MAX_ATTEMPTS" default:"5"`
	RetryDelay     time.Duration `envconfig:"CHAT_RETRY_DELAY" default:"1s"`
	SettleDelay    time.Duration `envconfig:"CHAT_SETTLE_DELAY" default:"500ms"`
	Reconnect      bool          `envconfig:"CHAT_RECONNECT" default:"true"`
	WaitForReady   bool          `envconfig:"CHAT_WAIT_FOR_READY" default:"false"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR"`
}

// Session 转换为会话配置。
func (c ClientConfig) Session() chat.Config {
	return chat.Config{
		MaxAttempts:  c.MaxAttempts,
		RetryDelay:   c.RetryDelay,
		SettleDelay:  c.SettleDelay,
		Reconnect:    c.Reconnect,
		WaitForReady: c.WaitForReady,
	}
}

// Dialer 转换为传输选项。
func (c ClientConfig) Dialer(logger zerolog.Logger) transport.Options {
	return transport.Options{
		URL:            c.ServerURL,
		Path:           c.Path,
		Transports:     c.Transports,
		ConnectTimeout: c.ConnectTimeout,
		Logger:         logger,
	}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string   `envconfig:"ARK_API_KEY"`
	AccessKey   string   `envconfig:"ARK_ACCESS_KEY"`
	SecretKey   string   `envconfig:"ARK_SECRET_KEY"`
	Model       string   `envconfig:"ARK_MODEL"`
	BaseURL     string   `envconfig:"ARK_BASE_URL" default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region      string   `envconfig:"ARK_REGION" default:"cn-beijing"`
	Temperature *float64 `envconfig:"ARK_TEMPERATURE"`
	TopP        *float64 `envconfig:"ARK_TOP_P"`
	MaxTokens   *int     `envconfig:"ARK_MAX_TOKENS"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
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

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// StoreConfig 描述会话存储配置；未设置 REDIS_URL 时使用内存存储。
type StoreConfig struct {
	RedisURL  string        `envconfig:"REDIS_URL"`
	Password  string        `envconfig:"REDIS_PASSWORD"`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	TTL       time.Duration `envconfig:"REDIS_TTL" default:"24h"`
	KeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"companion-chat"`
}

// Enabled 表示是否配置了 Redis。
func (c StoreConfig) Enabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

// NewRedisClient 解析 REDIS_URL 并创建客户端，单独设置的密码与库号优先。
func (c StoreConfig) NewRedisClient() (*redis.Client, error) {
	if !c.Enabled() {
		return nil, errors.New("REDIS_URL is not configured")
	}

	opts, err := redis.ParseURL(strings.TrimSpace(c.RedisURL))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if c.Password != "" {
		opts.Password = c.Password
	}
	if c.DB != 0 {
		opts.DB = c.DB
	}
	return redis.NewClient(opts), nil
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}
