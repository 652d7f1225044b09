package chain

import (
	"context"
	"log/slog"
	"time"
)

// track は境界呼び出し（ストレージ・埋め込み・生成）の所要時間を計測し、
// 返された関数が呼ばれた時点でデバッグログに出力します。
func track(ctx context.Context, op, sessionID string) func() {
	start := time.Now()
	return func() {
		slog.DebugContext(ctx, "chain boundary call",
			"op", op,
			"session_id", sessionID,
			"elapsed", time.Since(start),
		)
	}
}
