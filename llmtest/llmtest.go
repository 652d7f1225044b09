// Package llmtest はテスト用の決定的な生成・埋め込み実装を提供します。
package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/sat8bit/tavern/llm"
)

// Dims は HashEmbedder が返すベクトルの次元数です。
const Dims = 64

// HashEmbedder は単語をハッシュで次元に割り振る bag-of-words 埋め込みです。
// 同じ単語を多く共有する文章ほどコサイン類似度が高くなります。
type HashEmbedder struct {
	Err error

	mu    sync.Mutex
	calls int
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

// Calls は Embed が呼ばれた回数です。
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Vector は text を正規化済みのベクトルにします。
func Vector(text string) []float32 {
	v := make([]float32, Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%Dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// Generator は呼び出しを記録し、Respond（未設定なら固定の書式）で応答する生成器です。
type Generator struct {
	Respond func(in llm.GenerateInput) (string, error)

	mu    sync.Mutex
	calls []llm.GenerateInput
}

func (g *Generator) Generate(ctx context.Context, in llm.GenerateInput) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, in)
	g.mu.Unlock()

	if g.Respond != nil {
		return g.Respond(in)
	}
	return "reply to: " + in.Input, nil
}

// Calls は記録された呼び出しのコピーを返します。
func (g *Generator) Calls() []llm.GenerateInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]llm.GenerateInput, len(g.calls))
	copy(out, g.calls)
	return out
}

var (
	_ llm.Generator = (*Generator)(nil)
	_ llm.Embedder  = (*HashEmbedder)(nil)
)
