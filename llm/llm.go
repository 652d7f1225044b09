package llm

import (
	"context"

	"github.com/sat8bit/tavern/history"
)

// Generator は文章生成の能力です。
type Generator interface {
	// Generate generates text based on the provided prompt.
	Generate(ctx context.Context, input GenerateInput) (string, error)
}

// Embedder は文章を固定長のベクトルに変換する能力です。
type Embedder interface {
	// Embed は texts と同じ順序でベクトルを返します。
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type GenerateInput struct {
	Model        string
	Temperature  float64
	SystemPrompt string
	History      []history.Message // 過去のやり取り（古い順）
	Input        string
}
