package turn

import (
	"context"
)

// Manager は発話権（ターン）を管理します。
// 同時にターンを持てるのは 1 つの呼び出しだけです。
type Manager interface {
	Acquire(ctx context.Context) error
	Release()
}
