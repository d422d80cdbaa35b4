package transport

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 使用 channel 模拟消息总线，主要用于本地运行与测试。
// 队列按名称惰性创建，回复队列与入站队列走同一套机制。
type MemoryBus struct {
	mu      sync.Mutex
	queues  map[string]chan []byte
	inbound string
	size    int
	closed  bool
}

// NewMemoryBus 创建一个内存总线，inbound 是本方消费的入站队列名。
func NewMemoryBus(inbound string, size int) *MemoryBus {
	if size <= 0 {
		size = 64
	}
	return &MemoryBus{
		queues:  make(map[string]chan []byte),
		inbound: inbound,
		size:    size,
	}
}

func (b *MemoryBus) queue(name string) (chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("总线已关闭")
	}
	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan []byte, b.size)
		b.queues[name] = ch
	}
	return ch, nil
}

// Publish 将消息投递到指定队列。
func (b *MemoryBus) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := b.queue(queue)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- body:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费入站队列。
func (b *MemoryBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	ch, err := b.queue(b.inbound)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case body, ok := <-ch:
					if !ok {
						return
					}
					_ = handler(ctx, body)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Receive 从指定队列取一条消息，用于测试读取回复队列。
func (b *MemoryBus) Receive(ctx context.Context, queue string) ([]byte, error) {
	ch, err := b.queue(queue)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case body := <-ch:
		return body, nil
	}
}

// Close 关闭内存总线。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		for _, ch := range b.queues {
			close(ch)
		}
		b.closed = true
	}
	return nil
}
