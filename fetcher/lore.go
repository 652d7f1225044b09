package fetcher

import (
	"context"
	"fmt"
	"log/slog"
)

// LoreAppender は伝承を 1 件ずつ追記できる相手です。character.Character が実装します。
type LoreAppender interface {
	ID() string
	AddLore(ctx context.Context, entry string) error
}

// ImportLore は f から取得した記事を target の伝承に順に追記し、追記した件数を返します。
// 途中で失敗した場合は、それまでに追記した件数とエラーを返します。
func ImportLore(ctx context.Context, f Fetcher, target LoreAppender) (int, error) {
	items, err := f.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range items {
		entry := item.Lore()
		if entry == "" {
			continue
		}
		if err := target.AddLore(ctx, entry); err != nil {
			return n, fmt.Errorf("fetcher.ImportLore: %w", err)
		}
		n++
	}
	slog.InfoContext(ctx, "imported lore", "character_id", target.ID(), "entries", n)
	return n, nil
}
