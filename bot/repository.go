package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/store"
)

// DefaultConfig は設定ファイルで上書きされなかったときのボット設定です。
var DefaultConfig = Config{
	Model:       "gemini-2.5-flash-lite",
	Temperature: 0,
}

// Repository は Bots コレクションに対するボットの作成と読み込みを行います。
type Repository struct {
	store    store.Store
	defaults Config
}

// NewRepository は Repository を生成します。defaults.Model が空なら DefaultConfig を使います。
func NewRepository(s store.Store, defaults Config) *Repository {
	if defaults.Model == "" {
		defaults = DefaultConfig
	}
	return &Repository{store: s, defaults: defaults}
}

// Defaults はボット作成時に補われる設定です。
func (r *Repository) Defaults() Config {
	return r.defaults
}

func (r *Repository) withDefaults(cfg Config) Config {
	if cfg.Model == "" {
		cfg.Model = r.defaults.Model
		if cfg.Temperature == 0 {
			cfg.Temperature = r.defaults.Temperature
		}
	}
	return cfg
}

// CreateChat は新しい会話ボットを保存します。2 つのプロンプトはどちらも必須です。
func (r *Repository) CreateChat(ctx context.Context, b ChatBot) (*ChatBot, error) {
	if strings.TrimSpace(b.ContextualizePrompt) == "" {
		return nil, apperr.Configuration(fieldContextualizePrompt, "template is required")
	}
	if strings.TrimSpace(b.AnswerPrompt) == "" {
		return nil, apperr.Configuration(fieldAnswerPrompt, "template is required")
	}
	b.Config = r.withDefaults(b.Config)

	id, err := r.store.Insert(ctx, store.CollectionBots, store.Document{
		fieldKind:                string(KindChat),
		fieldName:                b.Name,
		fieldContextualizePrompt: b.ContextualizePrompt,
		fieldAnswerPrompt:        b.AnswerPrompt,
		fieldConfig:              b.Config.document(),
	})
	if err != nil {
		return nil, fmt.Errorf("bot.Repository.CreateChat: %w", err)
	}
	b.ID = id
	return &b, nil
}

// CreateReasoning は新しい推論ボットを保存します。
func (r *Repository) CreateReasoning(ctx context.Context, b ReasoningBot) (*ReasoningBot, error) {
	if strings.TrimSpace(b.ReasoningPrompt) == "" {
		return nil, apperr.Configuration(fieldReasoningPrompt, "template is required")
	}
	b.Config = r.withDefaults(b.Config)
	b.TargetCollection = b.Stream()

	id, err := r.store.Insert(ctx, store.CollectionBots, store.Document{
		fieldKind:                string(KindReasoning),
		fieldName:                b.Name,
		fieldReasoningPrompt:     b.ReasoningPrompt,
		fieldReasoningCollection: b.TargetCollection,
		fieldConfig:              b.Config.document(),
	})
	if err != nil {
		return nil, fmt.Errorf("bot.Repository.CreateReasoning: %w", err)
	}
	b.ID = id
	return &b, nil
}

func (r *Repository) get(ctx context.Context, id string) (store.Document, error) {
	if id == "" {
		return nil, apperr.Validation("bot_id", "bot id is required")
	}
	doc, err := r.store.Get(ctx, store.CollectionBots, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound(store.CollectionBots, id)
		}
		return nil, fmt.Errorf("bot.Repository: %w", err)
	}
	return doc, nil
}

// LoadChat は保存済みの会話ボットを読み込みます。
// 存在しなければ NotFoundError、プロンプトが欠けていれば ConfigurationError です。
func (r *Repository) LoadChat(ctx context.Context, id string) (*ChatBot, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &ChatBot{
		ID:                  id,
		Name:                stringField(doc, fieldName),
		ContextualizePrompt: stringField(doc, fieldContextualizePrompt),
		AnswerPrompt:        stringField(doc, fieldAnswerPrompt),
		Config:              configFromDocument(doc[fieldConfig], r.defaults),
	}
	if strings.TrimSpace(b.ContextualizePrompt) == "" {
		return nil, apperr.Configuration(fieldContextualizePrompt, fmt.Sprintf("bot %s has no template", id))
	}
	if strings.TrimSpace(b.AnswerPrompt) == "" {
		return nil, apperr.Configuration(fieldAnswerPrompt, fmt.Sprintf("bot %s has no template", id))
	}
	return b, nil
}

// LoadReasoning は保存済みの推論ボットを読み込みます。
func (r *Repository) LoadReasoning(ctx context.Context, id string) (*ReasoningBot, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &ReasoningBot{
		ID:               id,
		Name:             stringField(doc, fieldName),
		ReasoningPrompt:  stringField(doc, fieldReasoningPrompt),
		TargetCollection: stringField(doc, fieldReasoningCollection),
		Config:           configFromDocument(doc[fieldConfig], r.defaults),
	}
	if strings.TrimSpace(b.ReasoningPrompt) == "" {
		return nil, apperr.Configuration(fieldReasoningPrompt, fmt.Sprintf("bot %s has no template", id))
	}
	b.TargetCollection = b.Stream()
	return b, nil
}

// Describe は種類を問わずボットの概要を返します。
func (r *Repository) Describe(ctx context.Context, id string) (*Summary, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return summaryFromDocument(doc, r.defaults), nil
}

// List は全てのボットの概要を作成順に返します。
func (r *Repository) List(ctx context.Context) ([]*Summary, error) {
	docs, err := r.store.Scan(ctx, store.CollectionBots, fieldConfig)
	if err != nil {
		return nil, fmt.Errorf("bot.Repository.List: %w", err)
	}
	out := make([]*Summary, 0, len(docs))
	for _, doc := range docs {
		out = append(out, summaryFromDocument(doc, r.defaults))
	}
	return out, nil
}

func summaryFromDocument(doc store.Document, defaults Config) *Summary {
	kind := Kind(stringField(doc, fieldKind))
	if kind == "" {
		kind = KindChat
		if _, ok := doc[fieldReasoningPrompt]; ok {
			kind = KindReasoning
		}
	}
	return &Summary{
		ID:     doc.ID(),
		Name:   stringField(doc, fieldName),
		Kind:   kind,
		Config: configFromDocument(doc[fieldConfig], defaults),
	}
}

func stringField(doc store.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}
