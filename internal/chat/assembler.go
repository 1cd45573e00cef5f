package chat

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/metrics"
	"github.com/zhouzirui/companion-chat/internal/protocol"
)

// Assembler 将 response_start / response_chunk / response_end 组装为完整的助手消息。
//
// 同一时刻至多有一条正在组装的回复。片段按到达顺序追加；若服务器为片段编号（seq），
// 则按编号重排，缺口之后的片段暂存，直到缺口被补齐或回复结束。
type Assembler struct {
	conn    *ConnectionManager
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	active *streamingReply

	starts    observers[string]
	chunks    observers[string]
	completes observers[Message]
	errors    observers[ProtocolError]
}

type streamingReply struct {
	id      string
	content strings.Builder
	nextSeq int
	held    map[int]string
}

// accept 追加一个片段，返回按顺序可以交付的片段。
func (r *streamingReply) accept(c protocol.ResponseChunk) []string {
	if c.Seq == nil {
		r.content.WriteString(c.Chunk)
		return []string{c.Chunk}
	}

	seq := *c.Seq
	if seq < r.nextSeq {
		return nil
	}
	if r.held == nil {
		r.held = make(map[int]string)
	}
	r.held[seq] = c.Chunk

	var ready []string
	for {
		s, ok := r.held[r.nextSeq]
		if !ok {
			break
		}
		delete(r.held, r.nextSeq)
		r.content.WriteString(s)
		ready = append(ready, s)
		r.nextSeq++
	}
	return ready
}

// flush 按编号交付剩余的暂存片段。
func (r *streamingReply) flush() []string {
	if len(r.held) == 0 {
		return nil
	}
	seqs := make([]int, 0, len(r.held))
	for seq := range r.held {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	out := make([]string, 0, len(seqs))
	for _, seq := range seqs {
		r.content.WriteString(r.held[seq])
		out = append(out, r.held[seq])
	}
	r.held = nil
	return out
}

func newAssembler(conn *ConnectionManager, logger zerolog.Logger, m *metrics.Collector) *Assembler {
	a := &Assembler{
		conn:    conn,
		logger:  logger.With().Str("component", "assembler").Logger(),
		metrics: m,
	}
	conn.handle(protocol.EventResponseStart, a.handleStart)
	conn.handle(protocol.EventResponseChunk, a.handleChunk)
	conn.handle(protocol.EventResponseEnd, a.handleEnd)
	conn.handle(protocol.EventError, a.handleError)
	conn.hook(a.onState)
	return a
}

// OnStart 注册回复开始回调，参数为新回复的 ID。
func (a *Assembler) OnStart(fn func(id string)) *Subscription {
	return a.starts.add(fn)
}

// OnChunk 注册片段回调，参数只是新片段而不是累积内容。回复之外到达的片段会被丢弃，不会通知。
func (a *Assembler) OnChunk(fn func(chunk string)) *Subscription {
	return a.chunks.add(fn)
}

// OnComplete 注册回复完成回调。
func (a *Assembler) OnComplete(fn func(Message)) *Subscription {
	return a.completes.add(fn)
}

// OnError 注册服务器错误回调。错误不会结束正在组装的回复。
func (a *Assembler) OnError(fn func(ProtocolError)) *Subscription {
	return a.errors.add(fn)
}

// RemoveAllListeners 移除所有公开回调。
func (a *Assembler) RemoveAllListeners() {
	a.starts.clear()
	a.chunks.clear()
	a.completes.clear()
	a.errors.clear()
}

// Current 返回正在组装的回复。
func (a *Assembler) Current() (Reply, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return Reply{}, false
	}
	return Reply{ID: a.active.id, Content: a.active.content.String()}, true
}

// Streaming 是否有正在组装的回复。
func (a *Assembler) Streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

func (a *Assembler) handleStart(gen uint64, _ json.RawMessage) {
	a.mu.Lock()
	if !a.conn.current(gen) {
		a.mu.Unlock()
		return
	}
	if a.active != nil {
		a.logger.Debug().Str("reply_id", a.active.id).Msg("unfinished reply replaced by a new one")
		a.metrics.StreamAbandoned()
	}
	a.active = &streamingReply{id: uuid.NewString()}
	id := a.active.id
	a.mu.Unlock()

	a.metrics.StreamStarted()
	a.starts.emit(id)
}

func (a *Assembler) handleChunk(gen uint64, payload json.RawMessage) {
	var chunk protocol.ResponseChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		a.logger.Warn().Err(err).Msg("malformed response chunk")
		return
	}

	a.mu.Lock()
	if !a.conn.current(gen) {
		a.mu.Unlock()
		return
	}
	if a.active == nil {
		a.mu.Unlock()
		a.logger.Debug().Msg("chunk outside of a reply dropped")
		return
	}
	ready := a.active.accept(chunk)
	a.mu.Unlock()

	for _, c := range ready {
		a.metrics.Chunk()
		a.chunks.emit(c)
	}
}

func (a *Assembler) handleEnd(gen uint64, _ json.RawMessage) {
	a.mu.Lock()
	if !a.conn.current(gen) || a.active == nil {
		a.mu.Unlock()
		return
	}
	reply := a.active
	a.active = nil
	late := reply.flush()
	content := reply.content.String()
	a.mu.Unlock()

	if len(late) > 0 {
		a.logger.Warn().Int("fragments", len(late)).Msg("reply ended with missing fragments")
	}
	for _, c := range late {
		a.metrics.Chunk()
		a.chunks.emit(c)
	}

	a.metrics.StreamCompleted()
	a.completes.emit(Message{
		ID:        reply.id,
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Assembler) handleError(gen uint64, payload json.RawMessage) {
	var e protocol.ErrorPayload
	if err := json.Unmarshal(payload, &e); err != nil {
		a.logger.Warn().Err(err).Msg("malformed error event")
	}
	if !a.conn.current(gen) {
		return
	}
	a.logger.Warn().Str("message", e.Message).Msg("server reported an error")
	a.metrics.ProtocolError()
	a.errors.emit(ProtocolError{Message: e.Message})
}

// onState 连接断开时丢弃未完成的回复。
func (a *Assembler) onState(st State) {
	if st.Status != StatusDisconnected {
		return
	}
	a.mu.Lock()
	reply := a.active
	a.active = nil
	a.mu.Unlock()

	if reply != nil {
		a.logger.Info().Str("reply_id", reply.id).Msg("unfinished reply discarded on disconnect")
		a.metrics.StreamAbandoned()
	}
}
