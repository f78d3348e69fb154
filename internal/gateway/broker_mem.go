package gateway

import (
	"context"
	"sync"
)

type memSub struct {
	patterns []string
	ch       chan Message
}

// MemBroker 单机内存实现，fanout 语义和 NATS 一致：at-most-once，慢订阅者直接丢
type MemBroker struct {
	mu     sync.RWMutex
	subs   map[*memSub]struct{}
	buf    int
	closed bool
}

func NewMemBroker(buf int) *MemBroker {
	if buf <= 0 {
		buf = 4096
	}
	return &MemBroker{subs: make(map[*memSub]struct{}), buf: buf}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	msg := Message{Topic: topic, Payload: payload}
	for s := range b.subs {
		for _, p := range s.patterns {
			if !matchTopic(p, topic) {
				continue
			}
			select {
			case s.ch <- msg:
			default:
			}
			break
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	s := &memSub{patterns: append([]string(nil), topics...), ch: make(chan Message, b.buf)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	// ctx 结束时退订并关闭 channel
	go func() {
		<-ctx.Done()
		b.unsubscribe(s)
	}()
	return s.ch, nil
}

func (b *MemBroker) unsubscribe(s *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
