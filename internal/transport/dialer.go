package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// FallbackDialer 依次尝试各个 Dialer，返回第一个成功的连接。
type FallbackDialer struct {
	Dialers []Dialer
	Logger  zerolog.Logger
}

// Dial 按顺序尝试传输方式。
func (f *FallbackDialer) Dial(ctx context.Context) (Conn, error) {
	if len(f.Dialers) == 0 {
		return nil, ErrNoTransport
	}

	var errs []error
	for i, d := range f.Dialers {
		conn, err := d.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
		if i < len(f.Dialers)-1 {
			f.Logger.Warn().Err(err).Msg("transport unavailable, falling back")
		}
	}
	return nil, errors.Join(errs...)
}

// Options 描述如何访问聊天服务器。
type Options struct {
	URL            string
	Path           string
	Transports     []string
	ConnectTimeout time.Duration
	Header         http.Header
	Logger         zerolog.Logger
}

// NewDialer 按 Transports 的顺序构造 Dialer；只有一种传输时不做回退包装。
func NewDialer(opts Options) (Dialer, error) {
	logger := opts.Logger.With().Str("component", "transport").Logger()

	var dialers []Dialer
	for _, name := range opts.Transports {
		switch name {
		case TransportWebSocket:
			dialers = append(dialers, &WebSocketDialer{
				URL:              opts.URL,
				Path:             opts.Path,
				Header:           opts.Header,
				HandshakeTimeout: opts.ConnectTimeout,
				Logger:           logger,
			})
		case TransportPolling:
			dialers = append(dialers, &PollingDialer{
				URL:     opts.URL,
				Path:    opts.Path,
				Header:  opts.Header,
				Timeout: opts.ConnectTimeout,
				Logger:  logger,
			})
		default:
			return nil, fmt.Errorf("unknown transport %q", name)
		}
	}

	switch len(dialers) {
	case 0:
		return nil, ErrNoTransport
	case 1:
		return dialers[0], nil
	default:
		return &FallbackDialer{Dialers: dialers, Logger: logger}, nil
	}
}
