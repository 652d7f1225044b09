// Package bot は会話ボットと推論ボットの設定を永続化します。
package bot

import (
	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/store"
)

// Kind はボットの種類です。ドキュメントの "kind" フィールドに保存されます。
type Kind string

const (
	KindChat      Kind = "chat"
	KindReasoning Kind = "reasoning"
)

// ドキュメントのフィールド名。
const (
	fieldKind                = "kind"
	fieldName                = "name"
	fieldConfig              = "config"
	fieldContextualizePrompt = "contextualize_q_system_prompt"
	fieldAnswerPrompt        = "qa_system_prompt"
	fieldReasoningPrompt     = "reasoning_system_prompt"
	fieldReasoningCollection = "reasoning_collection_name"
)

// ContextPlaceholder は回答プロンプト中で検索結果に置き換えられる文字列です。
const ContextPlaceholder = "{context}"

// Config はボットが使うモデルの設定です。
type Config struct {
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	// Local が true なら会話履歴をプロセス内に持ちます。false ならストアに保存します。
	Local bool `json:"local" yaml:"local"`
}

// Mode は履歴の保存先を返します。
func (c Config) Mode() history.Mode {
	if c.Local {
		return history.ModeLocal
	}
	return history.ModeRemote
}

func (c Config) document() map[string]any {
	return map[string]any{
		"model":       c.Model,
		"temperature": c.Temperature,
		"local":       c.Local,
	}
}

func configFromDocument(v any, defaults Config) Config {
	cfg := defaults
	m, ok := v.(map[string]any)
	if !ok {
		return cfg
	}
	if model, ok := m["model"].(string); ok && model != "" {
		cfg.Model = model
	}
	if temp, ok := m["temperature"].(float64); ok {
		cfg.Temperature = temp
	}
	if local, ok := m["local"].(bool); ok {
		cfg.Local = local
	}
	return cfg
}

// ChatBot は会話を担当するボットです。
type ChatBot struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	// ContextualizePrompt は履歴を踏まえて質問を独立した形に書き換えるためのシステムプロンプトです。
	ContextualizePrompt string `json:"contextualize_q_system_prompt"`
	// AnswerPrompt は回答生成のシステムプロンプトです。{context} を含められます。
	AnswerPrompt string `json:"qa_system_prompt"`
	Config       Config `json:"config"`
}

// ReasoningBot は一定のターンごとに観察や振り返りを書き出す補助ボットです。
type ReasoningBot struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	ReasoningPrompt string `json:"reasoning_system_prompt"`
	// TargetCollection は自分の記憶を読み書きする履歴ストリーム名です。
	TargetCollection string `json:"reasoning_collection_name"`
	Config           Config `json:"config"`
}

// Stream は推論ボットの記憶ストリーム名を返します。未設定なら Memories です。
func (b *ReasoningBot) Stream() string {
	if b.TargetCollection == "" {
		return store.CollectionMemories
	}
	return b.TargetCollection
}

// Summary は一覧表示用の概要です。
type Summary struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Kind   Kind   `json:"kind"`
	Config Config `json:"config"`
}
