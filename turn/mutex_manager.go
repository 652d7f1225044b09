package turn

import (
	"context"
	"fmt"
)

// MutexManager は turn.Manager の実装です。
// バッファサイズ 1 のチャネルをセマフォとして使い、書き込めたらターン取得、読み出したら解放です。
type MutexManager struct {
	turnCh chan struct{}
}

// NewMutexManager は新しい MutexManager を生成します。
func NewMutexManager() *MutexManager {
	return &MutexManager{
		turnCh: make(chan struct{}, 1),
	}
}

// Acquire はターンを取得します。
// 既に他の誰かがターンを保持している場合、解放されるかコンテキストが終わるまでブロックします。
func (m *MutexManager) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire turn: %w", ctx.Err())
	case m.turnCh <- struct{}{}:
		return nil
	}
}

// TryAcquire は待たずにターンの取得を試みます。
// 既に他の誰かが保持していれば false を返します。
func (m *MutexManager) TryAcquire() bool {
	select {
	case m.turnCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release は保持しているターンを解放します。
// 保持していない状態で呼んでも何もしません。
func (m *MutexManager) Release() {
	select {
	case <-m.turnCh:
	default:
	}
}

// コンパイル時に Manager インターフェースを実装していることを保証します。
var _ Manager = (*MutexManager)(nil)
