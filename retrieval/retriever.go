package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/llm"
)

// DefaultTopK は 1 回の検索で返す断片数の既定値です。
const DefaultTopK = 4

// Rewrite は質問の書き換えに使う生成設定です。
type Rewrite struct {
	Model       string
	Temperature float64
	Prompt      string
}

// Retriever は履歴を踏まえて質問を書き換えてから、索引を検索します。
type Retriever struct {
	Index     *Index
	Embedder  llm.Embedder
	Generator llm.Generator
	Rewrite   Rewrite
	TopK      int
}

// Result は検索の結果です。Query は実際に検索に使った（書き換え後の）質問です。
type Result struct {
	Query  string
	Chunks []string
}

// Retrieve は query に関連する断片を返します。
// 履歴が空の場合は書き換えを行わず、query をそのまま使います。
func (r *Retriever) Retrieve(ctx context.Context, query string, hist []history.Message) (*Result, error) {
	standalone := query
	if len(hist) > 0 {
		rewritten, err := r.Generator.Generate(ctx, llm.GenerateInput{
			Model:        r.Rewrite.Model,
			Temperature:  r.Rewrite.Temperature,
			SystemPrompt: r.Rewrite.Prompt,
			History:      hist,
			Input:        query,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieval.Retriever.Retrieve: rewrite: %w", err)
		}
		if s := strings.TrimSpace(rewritten); s != "" {
			standalone = s
		}
	}

	if r.Index == nil || r.Index.Len() == 0 {
		return &Result{Query: standalone}, nil
	}

	vectors, err := r.Embedder.Embed(ctx, []string{standalone})
	if err != nil {
		return nil, fmt.Errorf("retrieval.Retriever.Retrieve: embed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("retrieval.Retriever.Retrieve: got %d query vectors", len(vectors))
	}

	k := r.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	return &Result{Query: standalone, Chunks: r.Index.Search(vectors[0], k)}, nil
}
