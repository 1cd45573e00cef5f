package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/metrics"
	"github.com/zhouzirui/companion-chat/internal/protocol"
	"github.com/zhouzirui/companion-chat/internal/transport"
)

// eventHandler 处理某个入站事件。gen 为投递该事件的连接代数。
type eventHandler func(gen uint64, payload json.RawMessage)

// ConnectionManager 维护与聊天服务器之间的唯一连接。
//
// 每条连接对应一个代数（generation）。Disconnect、连接丢失与新的 Connect 都会推进代数，
// 旧连接上迟到的事件因代数不匹配而被丢弃。
type ConnectionManager struct {
	cfg     Config
	dialer  transport.Dialer
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu         sync.Mutex
	status     Status
	conn       transport.Conn
	generation uint64
	cancel     context.CancelFunc
	autoJoin   func()
	joinedGen  uint64
	joinTimer  *time.Timer
	handlers   map[string]eventHandler
	hooks      []func(State)
	pending    []State
	flushing   bool

	states observers[State]
}

// NewConnectionManager 创建连接管理器，初始状态为 disconnected。
func NewConnectionManager(cfg Config, dialer transport.Dialer, opts ...Option) *ConnectionManager {
	o := buildOptions(opts)
	m := &ConnectionManager{
		cfg:      cfg.normalized(),
		dialer:   dialer,
		logger:   o.logger.With().Str("component", "connection").Logger(),
		metrics:  o.metrics,
		handlers: make(map[string]eventHandler),
	}
	m.handle(protocol.EventConnected, m.handleGreeting)
	return m
}

// handle 注册内部事件处理器，供房间与回复组装器在构造时使用。
func (m *ConnectionManager) handle(event string, h eventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = h
}

// hook 注册内部状态钩子。钩子先于公开观察者执行，且不受 RemoveAllListeners 影响。
func (m *ConnectionManager) hook(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Status 返回当前状态。
func (m *ConnectionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected 是否已连接。
func (m *ConnectionManager) Connected() bool {
	return m.Status() == StatusConnected
}

// Transport 返回当前连接使用的传输名称，未连接时为空。
func (m *ConnectionManager) Transport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.Transport()
}

// OnState 注册状态变化回调。
func (m *ConnectionManager) OnState(fn func(State)) *Subscription {
	return m.states.add(fn)
}

// RemoveAllListeners 移除所有公开的状态回调。
func (m *ConnectionManager) RemoveAllListeners() {
	m.states.clear()
}

// Connect 建立连接。已连接或正在连接时直接返回 nil。
//
// 拨号最多尝试 MaxAttempts 次，每次失败都会发出带 Err 的 connecting 通知；
// 全部失败后状态回到 disconnected 并返回最后的错误。
// 连接过程中调用 Disconnect 会使 Connect 返回 ErrConnectAborted。
func (m *ConnectionManager) Connect(ctx context.Context) error {
	ctx, cancel, gen, ok := m.begin(ctx, 0)
	if !ok {
		return nil
	}
	defer cancel()

	m.flush()
	return m.establish(ctx, gen)
}

// begin 由 disconnected 进入 connecting 并分配新的代数。
// expect 非零时，只有当前代数仍等于 expect 才会开始。
func (m *ConnectionManager) begin(parent context.Context, expect uint64) (context.Context, context.CancelFunc, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusDisconnected || (expect != 0 && m.generation != expect) {
		return nil, nil, 0, false
	}
	m.generation++
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.status = StatusConnecting
	m.pending = append(m.pending, State{Status: StatusConnecting})
	return ctx, cancel, m.generation, true
}

func (m *ConnectionManager) establish(ctx context.Context, gen uint64) error {
	conn, err := m.dialWithRetry(ctx, gen)
	if err != nil {
		m.mu.Lock()
		stale := m.generation != gen
		if !stale {
			m.status = StatusDisconnected
			m.cancel = nil
			m.pending = append(m.pending, State{Status: StatusDisconnected, Err: err})
		}
		m.mu.Unlock()

		if stale {
			return ErrConnectAborted
		}
		m.logger.Error().Err(err).Msg("unable to connect")
		m.flush()
		return err
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrConnectAborted
	}
	m.conn = conn
	m.status = StatusConnected
	m.cancel = nil
	m.pending = append(m.pending, State{Status: StatusConnected})
	m.mu.Unlock()

	m.metrics.Connected(conn.Transport())
	m.logger.Info().Str("transport", conn.Transport()).Msg("connected")

	m.flush()
	go m.readLoop(gen, conn)
	m.scheduleAutoJoin(gen)
	return nil
}

// dialWithRetry 以固定间隔重试拨号。
func (m *ConnectionManager) dialWithRetry(ctx context.Context, gen uint64) (transport.Conn, error) {
	var lastErr error

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		m.metrics.ConnectAttempt()
		conn, err := m.dialer.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		m.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", m.cfg.MaxAttempts).
			Msg("connect attempt failed")
		m.publishFor(gen, State{Status: StatusConnecting, Err: err})

		if attempt == m.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cfg.RetryDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", m.cfg.MaxAttempts, lastErr)
}

// Disconnect 关闭当前连接或取消正在进行的连接。已断开时为空操作。
// 可以在任何回调中调用。
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.generation++
	if m.status == StatusDisconnected {
		m.mu.Unlock()
		return
	}
	conn, cancel, timer := m.conn, m.cancel, m.joinTimer
	m.conn, m.cancel, m.joinTimer = nil, nil, nil
	m.status = StatusDisconnected
	m.pending = append(m.pending, State{Status: StatusDisconnected})
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("close connection")
		}
		m.metrics.Disconnected()
	}

	m.logger.Info().Msg("disconnected")
	m.flush()
}

func (m *ConnectionManager) readLoop(gen uint64, conn transport.Conn) {
	for ev := range conn.Events() {
		m.dispatch(gen, ev)
	}
	m.lost(gen, conn.Err())
}

func (m *ConnectionManager) dispatch(gen uint64, ev protocol.Event) {
	m.mu.Lock()
	current := gen == m.generation && m.status == StatusConnected
	h := m.handlers[ev.Name]
	m.mu.Unlock()

	if !current {
		return
	}
	if h == nil {
		m.logger.Debug().Str("event", ev.Name).Msg("unhandled event")
		return
	}
	h(gen, ev.Payload)
}

// lost 处理服务器侧或网络导致的断开。
func (m *ConnectionManager) lost(gen uint64, err error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.generation++
	after := m.generation
	timer := m.joinTimer
	m.conn, m.joinTimer = nil, nil
	m.status = StatusDisconnected
	m.pending = append(m.pending, State{Status: StatusDisconnected, Err: err})
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	m.metrics.Disconnected()
	m.logger.Warn().Err(err).Msg("connection lost")
	m.flush()

	if !m.cfg.Reconnect {
		return
	}
	// 回调中调用了 Connect 或 Disconnect 时不再自动重连
	ctx, cancel, next, ok := m.begin(context.Background(), after)
	if !ok {
		return
	}
	m.logger.Info().Msg("reconnecting")
	m.flush()
	go func() {
		defer cancel()
		_ = m.establish(ctx, next)
	}()
}

func (m *ConnectionManager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation && m.status == StatusConnected
}

// emit 在当前连接上发送事件。未连接时不发送，sent 为 false。
func (m *ConnectionManager) emit(event string, payload any) (gen uint64, sent bool, err error) {
	m.mu.Lock()
	conn := m.conn
	gen = m.generation
	connected := m.status == StatusConnected && conn != nil
	m.mu.Unlock()

	if !connected {
		m.metrics.CommandDropped(event)
		m.logger.Debug().Str("event", event).Msg("not connected, command dropped")
		return gen, false, nil
	}
	if err := conn.Emit(event, payload); err != nil {
		return gen, true, fmt.Errorf("emit %s: %w", event, err)
	}
	return gen, true, nil
}

// flush 按状态变化的顺序投递排队的通知。同一时刻只有一个 goroutine 投递，
// 回调中触发的新通知由正在投递的 goroutine 在当前回调返回后送出。
func (m *ConnectionManager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.pending) > 0 {
		st := m.pending[0]
		m.pending = m.pending[1:]
		hooks := slices.Clone(m.hooks)
		m.mu.Unlock()

		for _, h := range hooks {
			h(st)
		}
		m.states.emit(st)

		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}

// publishFor 仅当 gen 仍是当前代数时发布。
func (m *ConnectionManager) publishFor(gen uint64, st State) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, st)
	m.mu.Unlock()
	m.flush()
}

// setAutoJoin 设置连接建立后自动执行的加入回调，nil 表示清除。
func (m *ConnectionManager) setAutoJoin(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoJoin = fn
}

func (m *ConnectionManager) scheduleAutoJoin(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.autoJoin == nil || gen != m.generation {
		return
	}
	m.joinTimer = time.AfterFunc(m.cfg.SettleDelay, func() { m.fireAutoJoin(gen) })
}

// fireAutoJoin 每条连接至多执行一次自动加入。
func (m *ConnectionManager) fireAutoJoin(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.status != StatusConnected || m.joinedGen == gen || m.autoJoin == nil {
		m.mu.Unlock()
		return
	}
	m.joinedGen = gen
	fn := m.autoJoin
	m.mu.Unlock()

	m.logger.Debug().Msg("auto-joining")
	fn()
}

func (m *ConnectionManager) handleGreeting(gen uint64, payload json.RawMessage) {
	var greeting protocol.Greeting
	if err := json.Unmarshal(payload, &greeting); err != nil {
		m.logger.Warn().Err(err).Msg("malformed greeting")
	} else {
		m.logger.Info().Str("greeting", greeting.Message).Msg("server ready")
	}
	if m.cfg.WaitForReady {
		m.fireAutoJoin(gen)
	}
}
