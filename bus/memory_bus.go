package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sat8bit/tavern/message"
)

// DefaultBuffer は購読者チャネルのバッファサイズの既定値です。
const DefaultBuffer = 64

// MemoryBus は bus.Bus インターフェースのインメモリ実装です。
// ブロードキャストされたメッセージをすべての購読者に配送します。
type MemoryBus struct {
	subscribers []chan *message.Message
	buffer      int

	mu       sync.RWMutex
	isClosed bool

	dropped atomic.Int64
}

// NewMemoryBus は新しい MemoryBus を生成します。buffer が 0 以下なら DefaultBuffer です。
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBus{
		subscribers: make([]chan *message.Message, 0),
		buffer:      buffer,
	}
}

// Broadcast はメッセージをすべての購読者に送ります。ブロックしません。
// 購読者のバッファが一杯の場合、その購読者へのメッセージは捨てられ Dropped に数えられます。
func (b *MemoryBus) Broadcast(m *message.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isClosed {
		return fmt.Errorf("bus is closed")
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- m:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe は新しい購読者を追加し、受信用のチャネルを返します。
func (b *MemoryBus) Subscribe() <-chan *message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *message.Message, b.buffer)
	if b.isClosed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Close はバスを閉じ、すべての購読者チャネルを閉じます。2 回目以降は何もしません。
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed {
		return
	}
	b.isClosed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

// Dropped は配送できずに捨てたメッセージの数です。
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

var _ Bus = (*MemoryBus)(nil)
