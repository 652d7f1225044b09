package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sat8bit/tavern/llm"
)

// コンテキストブロックの見出し。
const (
	PrompterPrefix  = "PROMPTER_CONTEXT:\n"
	ResponderPrefix = "RESPONDER_CONTEXT:\n"
)

// Builder は 2 人分のコンテキストから索引を作ります。
// キャッシュが有効な場合、同じセッション ID・同じコンテキストに対しては作った索引を使い回します。
// セッション ID が変わったとき、またはコンテキストが変わったときは必ず作り直します。
type Builder struct {
	splitter *Splitter
	embedder llm.Embedder
	cache    *lru.Cache[string, *sessionIndex]
}

type sessionIndex struct {
	fingerprint string
	index       *Index
}

// NewBuilder は Builder を生成します。cacheSize が 0 以下なら毎回作り直します。
func NewBuilder(splitter *Splitter, embedder llm.Embedder, cacheSize int) (*Builder, error) {
	b := &Builder{splitter: splitter, embedder: embedder}
	if cacheSize > 0 {
		cache, err := lru.New[string, *sessionIndex](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("retrieval.NewBuilder: %w", err)
		}
		b.cache = cache
	}
	return b, nil
}

// Build は見出しを付けた 2 つのコンテキストを分割し、新しい索引を作ります。
func (b *Builder) Build(ctx context.Context, prompterContext, responderContext string) (*Index, error) {
	chunks := b.splitter.SplitAll(
		PrompterPrefix+prompterContext,
		ResponderPrefix+responderContext,
	)
	return NewIndex(ctx, b.embedder, chunks)
}

// ForSession は sessionID 用の索引を返します。2 つ目の戻り値は使い回したかどうかです。
func (b *Builder) ForSession(ctx context.Context, sessionID, prompterContext, responderContext string) (*Index, bool, error) {
	fp := fingerprint(prompterContext, responderContext)
	if b.cache != nil {
		if cached, ok := b.cache.Get(sessionID); ok && cached.fingerprint == fp {
			return cached.index, true, nil
		}
	}

	idx, err := b.Build(ctx, prompterContext, responderContext)
	if err != nil {
		return nil, false, err
	}
	if b.cache != nil {
		b.cache.Add(sessionID, &sessionIndex{fingerprint: fp, index: idx})
	}
	slog.DebugContext(ctx, "retrieval index built", "session_id", sessionID, "chunks", idx.Len())
	return idx, false, nil
}

// Forget はセッションの索引を破棄します。
func (b *Builder) Forget(sessionID string) {
	if b.cache != nil {
		b.cache.Remove(sessionID)
	}
}

func fingerprint(prompterContext, responderContext string) string {
	h := sha256.New()
	h.Write([]byte(prompterContext))
	h.Write([]byte{0})
	h.Write([]byte(responderContext))
	return hex.EncodeToString(h.Sum(nil))
}
