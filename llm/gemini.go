package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/history"
)

// GeminiOptions は genai クライアントの接続設定です。
// Project が設定されていれば Vertex AI、そうでなければ APIKey で Gemini API を使います。
type GeminiOptions struct {
	APIKey         string
	Project        string
	Location       string
	EmbeddingModel string
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.Project != "" {
		cfg = &genai.ClientConfig{
			Project:  opts.Project,
			Location: opts.Location,
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm.NewGemini: %w", err)
	}

	embeddingModel := opts.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	return &Gemini{
		client:         client,
		embeddingModel: embeddingModel,
	}, nil
}

type Gemini struct {
	client         *genai.Client
	embeddingModel string
}

func (g *Gemini) Generate(ctx context.Context, input GenerateInput) (string, error) {
	var contents []*genai.Content
	for _, msg := range input.History {
		role := genai.RoleUser
		if msg.Role == history.RoleAI {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: speakerLine(msg)}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: input.Input}},
	})

	temp := float32(input.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if sys := strings.TrimSpace(input.SystemPrompt); sys != "" {
		cfg.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: sys}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, input.Model, contents, cfg)
	if err != nil {
		return "", apperr.Capability("generate", fmt.Errorf("llm.Gemini.Generate: %w", err))
	}

	txt := strings.TrimSpace(extractText(resp))
	if txt == "" {
		return "", apperr.Capability("generate", errors.New("llm.Gemini.Generate: empty response"))
	}
	return txt, nil
}

func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: t}},
		})
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, nil)
	if err != nil {
		return nil, apperr.Capability("embed", fmt.Errorf("llm.Gemini.Embed: %w", err))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.Capability("embed", fmt.Errorf("llm.Gemini.Embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts)))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// speakerLine は履歴に話者名があれば "名前: 本文" の形にします。
func speakerLine(msg history.Message) string {
	if msg.Speaker == "" {
		return msg.Content
	}
	return msg.Speaker + ": " + msg.Content
}

func extractText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 {
		return ""
	}
	// 先頭の候補から順に、最初に見つかったテキストを使う
	for _, c := range res.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

var (
	_ Generator = (*Gemini)(nil)
	_ Embedder  = (*Gemini)(nil)
)
