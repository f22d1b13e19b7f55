// Package bus 提供同步分发的类型化观察者总线。
//
// Publish 在调用方 goroutine 中依次调用订阅者。订阅表采用写时复制：
// 分发开始时取快照，分发过程中新增的订阅者从下一次 Publish 开始生效；
// 在轮到之前被取消的订阅者会被跳过，其余订阅者各被调用恰好一次。
package bus

import (
	"sync"
	"sync/atomic"
)

// Unsubscription 取消订阅，可重复调用
type Unsubscription func()

type subscriber[T any] struct {
	fn      func(T)
	removed atomic.Bool
}

// Bus 零值可用
type Bus[T any] struct {
	mu   sync.Mutex
	subs []*subscriber[T]
}

// Subscribe 注册处理函数
func (b *Bus[T]) Subscribe(fn func(T)) Unsubscription {
	s := &subscriber[T]{fn: fn}
	b.mu.Lock()
	next := make([]*subscriber[T], len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s) })
	}
}

func (b *Bus[T]) remove(s *subscriber[T]) {
	s.removed.Store(true)
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]*subscriber[T], 0, len(b.subs))
	for _, cur := range b.subs {
		if cur != s {
			next = append(next, cur)
		}
	}
	b.subs = next
}

// Publish 将 v 分发给快照中仍然有效的订阅者
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	snapshot := b.subs
	b.mu.Unlock()
	for _, s := range snapshot {
		if s.removed.Load() {
			continue
		}
		s.fn(v)
	}
}

// Len 当前订阅者数量
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
