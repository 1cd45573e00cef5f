package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/companion-chat/internal/chat"
	"github.com/zhouzirui/companion-chat/internal/config"
	"github.com/zhouzirui/companion-chat/internal/logging"
	"github.com/zhouzirui/companion-chat/internal/metrics"
	"github.com/zhouzirui/companion-chat/internal/protocol"
	"github.com/zhouzirui/companion-chat/internal/transport"
)

const quitCommand = "/quit"

var (
	companionID int
	userID      string
	sessionFlag int
	serverURL   string
	transports  []string
	metricsAddr string
)

// chatCmd starts an interactive conversation
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a companion",
	Long: `Connect, join the companion's room and send every stdin line as a message.

Replies are printed as they stream in. Connection state changes and server
errors go to stderr. Type /quit or press Ctrl+D to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().IntVarP(&companionID, "companion", "c", 1, "Companion ID to talk to")
	chatCmd.Flags().StringVarP(&userID, "user", "u", "", "User ID sent with join_chat (default: random)")
	chatCmd.Flags().IntVar(&sessionFlag, "session", 0, "Resume an existing chat session")
	chatCmd.Flags().StringVar(&serverURL, "server", "", "Server URL (overrides CHAT_SERVER_URL)")
	chatCmd.Flags().StringSliceVar(&transports, "transports", nil, "Transports in preference order (overrides CHAT_TRANSPORTS)")
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides METRICS_ADDR)")
}

func runChat(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	if len(transports) > 0 {
		cfg.Client.Transports = transports
	}
	if metricsAddr != "" {
		cfg.Client.MetricsAddr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	dialer, err := transport.NewDialer(cfg.Client.Dialer(logger))
	if err != nil {
		return err
	}
	session := chat.NewSession(cfg.Client.Session(), dialer,
		chat.WithLogger(logger),
		chat.WithMetrics(metrics.New(registry)),
	)
	defer session.Close()

	if userID == "" {
		userID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}
	var resume *int
	if sessionFlag > 0 {
		resume = &sessionFlag
	}
	client := newTerminal(session, companionID, userID, resume, cmd.OutOrStdout(), cmd.ErrOrStderr())

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Client.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Client.MetricsAddr, registry, logger) })
	}
	g.Go(func() error {
		if err := session.Connect(gctx); err != nil {
			return err
		}
		return client.loop(gctx, cmd.InOrStdin())
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

// terminal 把会话事件渲染到终端，并把输入行作为消息发送。
type terminal struct {
	session     *chat.Session
	companionID int
	userID      string
	out         io.Writer
	errOut      io.Writer

	mu        sync.Mutex
	sessionID *int
}

func newTerminal(s *chat.Session, companionID int, userID string, resume *int, out, errOut io.Writer) *terminal {
	t := &terminal{
		session:     s,
		companionID: companionID,
		userID:      userID,
		out:         out,
		errOut:      errOut,
		sessionID:   resume,
	}

	s.Conn.OnState(func(st chat.State) {
		if st.Err != nil {
			fmt.Fprintf(t.errOut, "[%s] %v\n", st.Status, st.Err)
			return
		}
		fmt.Fprintf(t.errOut, "[%s]\n", st.Status)
	})
	s.Room.OnJoined(t.joined)
	s.Replies.OnChunk(func(chunk string) { fmt.Fprint(t.out, chunk) })
	s.Replies.OnComplete(func(chat.Message) { fmt.Fprintln(t.out) })
	s.Replies.OnError(func(e chat.ProtocolError) { fmt.Fprintf(t.errOut, "[error] %s\n", e.Message) })
	// 重连后回到同一个会话
	s.Room.RegisterAutoJoin(func() {
		if err := s.Join(t.companionID, t.userID, t.currentSession()); err != nil {
			fmt.Fprintf(t.errOut, "[error] join: %v\n", err)
		}
	})
	return t
}

func (t *terminal) currentSession() *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID == nil {
		return nil
	}
	id := *t.sessionID
	return &id
}

func (t *terminal) joined(raw json.RawMessage) {
	var ack protocol.ChatJoined
	if err := json.Unmarshal(raw, &ack); err != nil {
		fmt.Fprintf(t.errOut, "[error] malformed chat_joined: %v\n", err)
		return
	}
	if ack.ChatSessionID != nil {
		id := *ack.ChatSessionID
		t.mu.Lock()
		t.sessionID = &id
		t.mu.Unlock()
		fmt.Fprintf(t.errOut, "[joined] session %d\n", id)
	}
	for _, m := range ack.History {
		fmt.Fprintf(t.out, "%s: %s\n", m.Role, m.Content)
	}
	if ack.Message != "" {
		fmt.Fprintln(t.errOut, ack.Message)
	}
}

// loop 逐行读取输入直到 EOF、/quit 或 ctx 结束。
func (t *terminal) loop(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return err
			}
			return errQuit
		case line := <-lines:
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == quitCommand {
				return errQuit
			}
			if !t.session.Conn.Connected() {
				fmt.Fprintln(t.errOut, "[offline] message not sent")
				continue
			}
			if err := t.session.Send(text, t.currentSession()); err != nil {
				fmt.Fprintf(t.errOut, "[error] send: %v\n", err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
