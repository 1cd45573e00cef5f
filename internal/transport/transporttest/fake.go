// Package transporttest provides an in-memory transport for exercising chat sessions
// without a server.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/zhouzirui/companion-chat/internal/protocol"
	"github.com/zhouzirui/companion-chat/internal/transport"
)

// SyncEvent is pushed after every inbound event so Push returns only once the
// consumer has finished handling the previous event. Consumers ignore it as an
// unknown event.
const SyncEvent = "$sync"

// ErrRefused is returned by dials configured to fail.
var ErrRefused = errors.New("transporttest: connection refused")

// Dialer hands out fake connections and records every dial.
type Dialer struct {
	mu       sync.Mutex
	conns    []*Conn
	failures int
	failErr  error
	block    chan struct{}
	dialed   chan struct{}
}

// NewDialer returns a Dialer whose dials succeed.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan struct{}, 64)}
}

// FailNext makes the next n dials fail with err (ErrRefused when nil).
func (d *Dialer) FailNext(n int, err error) {
	if err == nil {
		err = ErrRefused
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
	d.failErr = err
}

// Block makes dials wait until Unblock is called or their context ends.
func (d *Dialer) Block() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.block = make(chan struct{})
}

// Unblock releases dials held by Block.
func (d *Dialer) Unblock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.block != nil {
		close(d.block)
		d.block = nil
	}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	block := d.block
	d.mu.Unlock()

	select {
	case d.dialed <- struct{}{}:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, d.failErr
	}
	c := newConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// Dialed is signalled at the start of every dial.
func (d *Dialer) Dialed() <-chan struct{} {
	return d.dialed
}

// Conns returns every connection handed out so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn is a fake transport.Conn. Outbound events are recorded; inbound events
// are injected with Push.
type Conn struct {
	in     chan protocol.Event
	out    chan protocol.Event
	done   chan struct{}
	ending sync.Once

	mu      sync.Mutex
	emitted []protocol.Event
	err     error
	emitErr error
}

func newConn() *Conn {
	c := &Conn{
		in:   make(chan protocol.Event),
		out:  make(chan protocol.Event),
		done: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *Conn) pump() {
	defer close(c.out)
	for {
		select {
		case ev := <-c.in:
			select {
			case c.out <- ev:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

// Emit records the event.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return transport.ErrClosed
	}
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emitted = append(c.emitted, protocol.Event{Name: event, Payload: data})
	return nil
}

// FailEmits makes subsequent emits fail with err.
func (c *Conn) FailEmits(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitErr = err
}

// Events implements transport.Conn.
func (c *Conn) Events() <-chan protocol.Event {
	return c.out
}

// Err implements transport.Conn.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Transport implements transport.Conn.
func (c *Conn) Transport() string {
	return "fake"
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.end(transport.ErrClosed)
	return nil
}

// Drop simulates the server going away.
func (c *Conn) Drop(err error) {
	c.end(err)
}

func (c *Conn) end(err error) {
	c.ending.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// Closed reports whether the connection has ended.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Push delivers an inbound event and waits until the consumer has finished
// handling it. It reports false when the connection has ended.
func (c *Conn) Push(name string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return c.PushRaw(name, data)
}

// PushRaw is Push with a pre-encoded payload.
func (c *Conn) PushRaw(name string, payload json.RawMessage) bool {
	if !c.send(protocol.Event{Name: name, Payload: payload}) {
		return false
	}
	// The pump accepts the second sync only after the consumer has taken the
	// first, which it does only once the pushed event has been handled.
	c.send(protocol.Event{Name: SyncEvent, Payload: json.RawMessage("{}")})
	c.send(protocol.Event{Name: SyncEvent, Payload: json.RawMessage("{}")})
	return true
}

func (c *Conn) send(ev protocol.Event) bool {
	select {
	case c.in <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Emitted returns the recorded outbound events.
func (c *Conn) Emitted() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.emitted...)
}

// EmittedNamed returns the recorded outbound events with the given name.
func (c *Conn) EmittedNamed(name string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range c.Emitted() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
