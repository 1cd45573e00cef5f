// Package logging 构造服务与客户端共用的 zerolog 日志器。
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New 按级别创建日志器；development 为 true 时输出便于阅读的控制台格式。
func New(level string, development bool) (zerolog.Logger, error) {
	return NewWithWriter(os.Stderr, level, development)
}

// NewWithWriter 与 New 相同，但写入指定的 io.Writer。
func NewWithWriter(w io.Writer, level string, development bool) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	out := w
	if development {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
