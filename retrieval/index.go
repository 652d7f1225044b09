package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sat8bit/tavern/llm"
)

// Index はプロセス内だけで使う小さなベクトル索引です。
// 構築後は読み取り専用なので、複数のゴルーチンから同時に検索できます。
type Index struct {
	chunks  []string
	vectors [][]float32
}

// NewIndex は chunks をまとめて埋め込み、索引を作ります。
func NewIndex(ctx context.Context, embedder llm.Embedder, chunks []string) (*Index, error) {
	idx := &Index{chunks: chunks}
	if len(chunks) == 0 {
		return idx, nil
	}
	vectors, err := embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("retrieval.NewIndex: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("retrieval.NewIndex: got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	idx.vectors = vectors
	return idx, nil
}

// Len は索引中の断片数です。
func (idx *Index) Len() int { return len(idx.chunks) }

// Chunks は索引中の断片を登録順に返します。
func (idx *Index) Chunks() []string {
	out := make([]string, len(idx.chunks))
	copy(out, idx.chunks)
	return out
}

// Search は query に近い順に最大 k 件の断片を返します。同じ類似度なら登録順です。
func (idx *Index) Search(query []float32, k int) []string {
	if k <= 0 || len(idx.chunks) == 0 {
		return nil
	}
	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, len(idx.vectors))
	for i, v := range idx.vectors {
		scores[i] = scored{pos: i, score: cosine(query, v)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})
	if k > len(scores) {
		k = len(scores)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = idx.chunks[scores[i].pos]
	}
	return out
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
