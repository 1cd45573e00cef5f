package chat

import (
	"slices"
	"sync"
)

// Subscription 由每个 On* 注册方法返回，用于取消注册。
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe 移除对应的回调，可重复调用。
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// observers 一组同类型回调。零值可用。
// emit 在锁外调用回调，回调中可以注册、注销或再次调用会话方法。
type observers[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []observer[T]
}

func (o *observers[T]) add(fn func(T)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.entries = append(o.entries, observer[T]{id: id, fn: fn})
	o.mu.Unlock()

	return &Subscription{cancel: func() { o.remove(id) }}
}

func (o *observers[T]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = slices.DeleteFunc(o.entries, func(e observer[T]) bool { return e.id == id })
}

func (o *observers[T]) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = nil
}

func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	snapshot := slices.Clone(o.entries)
	o.mu.Unlock()

	for _, e := range snapshot {
		e.fn(v)
	}
}

func (o *observers[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
