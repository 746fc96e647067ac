// Package flow 提供可观察的状态容器。
//
// 订阅者总是先收到当前值，之后只保证收到最新值：消费慢的订阅者会跳过中间状态。
package flow

import "sync"

// State 持有一个可被订阅的值
type State[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewState 创建状态容器
func NewState[T any](initial T) *State[T] {
	return &State[T]{
		value: initial,
		subs:  make(map[*Subscription[T]]struct{}),
	}
}

// Value 返回当前值
func (s *State[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set 替换当前值并通知订阅者
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.publishLocked()
}

// Update 基于当前值计算新值，返回新值
func (s *State[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fn(s.value)
	s.publishLocked()
	return s.value
}

// Subscribe 订阅状态变化，立即收到当前值
func (s *State[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		ch:    make(chan T, 1),
		state: s,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.done = true
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	sub.ch <- s.value
	return sub
}

// Close 关闭所有订阅
func (s *State[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.done = true
		close(sub.ch)
	}
	s.subs = nil
}

// publishLocked 调用方必须持有锁
func (s *State[T]) publishLocked() {
	for sub := range s.subs {
		// 丢弃未被消费的旧值
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- s.value
	}
}

// Subscription 状态订阅
type Subscription[T any] struct {
	ch    chan T
	state *State[T]
	done  bool // 受 state.mu 保护
}

// C 返回接收通道，订阅关闭后通道被关闭
func (sub *Subscription[T]) C() <-chan T {
	return sub.ch
}

// Close 取消订阅，可重复调用
func (sub *Subscription[T]) Close() {
	s := sub.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	delete(s.subs, sub)
	close(sub.ch)
}
