package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/metrics"
)

// Config 会话行为配置
type Config struct {
	// MaxAttempts 单次 Connect 的最大拨号次数
	MaxAttempts int
	// RetryDelay 两次拨号之间的固定间隔
	RetryDelay time.Duration
	// SettleDelay 连接建立后到自动加入之间的等待时间
	SettleDelay time.Duration
	// Reconnect 连接意外断开后是否自动重连
	Reconnect bool
	// WaitForReady 收到服务器 connected 问候时立即自动加入，不必等满 SettleDelay
	WaitForReady bool
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		RetryDelay:  time.Second,
		SettleDelay: 500 * time.Millisecond,
		Reconnect:   true,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// Option 会话可选项
type Option func(*options)

// WithLogger 设置日志器，默认不输出日志。
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics 设置指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
