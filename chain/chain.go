// Package chain は 1 ターン分の会話（検索・生成・履歴の保存）を組み立てます。
package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/llm"
	"github.com/sat8bit/tavern/retrieval"
	"github.com/sat8bit/tavern/session"
	"github.com/sat8bit/tavern/store"
	"github.com/sat8bit/tavern/turn"
)

// Options は Orchestrator の依存です。
type Options struct {
	Bots      *bot.Repository
	Builder   *retrieval.Builder
	Streams   *history.Streams
	Locks     *turn.SessionLocks
	Generator llm.Generator
	Embedder  llm.Embedder
	Keyer     session.Keyer
	TopK      int
	// HistoryCollection は会話履歴のストリーム名です。空なら Sessions。
	HistoryCollection string
}

// Orchestrator は会話ボットの 1 ターンを実行します。
type Orchestrator struct {
	opts Options
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.HistoryCollection == "" {
		opts.HistoryCollection = store.CollectionSessions
	}
	if opts.Locks == nil {
		opts.Locks = turn.NewSessionLocks(turn.PolicyOff)
	}
	return &Orchestrator{opts: opts}
}

// Request は 1 ターン分の入力です。
// Bot が nil の場合は BotID からボットを読み込みます。
// SessionID が空の場合は prompter と responder の ID から導出します。
type Request struct {
	Input     string
	Prompter  character.EntityLike
	Responder character.EntityLike
	BotID     string
	Bot       *bot.ChatBot
	SessionID string
}

// Response は 1 ターン分の結果です。
type Response struct {
	Answer    string   `json:"message"`
	SessionID string   `json:"session_id"`
	Query     string   `json:"query"`
	Context   []string `json:"context"`
}

// Invoke は以下の順に処理します。
//
//  1. 入力の検証（ストレージや外部能力を呼ぶ前）
//  2. ボットの解決とセッション ID の決定
//  3. 2 人のコンテキストから索引を用意
//  4. 履歴の読み込み
//  5. 履歴を踏まえた検索
//  6. 回答の生成
//  7. 生成に成功した場合だけ、人間側・AI 側の 2 件を履歴に追記
func (o *Orchestrator) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	chatBot, err := o.resolveBot(ctx, req)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = o.opts.Keyer.Key(req.Prompter.ID(), req.Responder.ID())
	}

	release, err := o.opts.Locks.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	prompterName, prompterContext, err := describe(ctx, req.Prompter)
	if err != nil {
		return nil, err
	}
	responderName, responderContext, err := describe(ctx, req.Responder)
	if err != nil {
		return nil, err
	}

	done := track(ctx, "build_index", sessionID)
	index, _, err := o.opts.Builder.ForSession(ctx, sessionID, prompterContext, responderContext)
	done()
	if err != nil {
		return nil, err
	}

	stream := o.opts.Streams.For(chatBot.Config.Mode(), o.opts.HistoryCollection)
	done = track(ctx, "load_history", sessionID)
	hist, err := stream.Messages(ctx, sessionID)
	done()
	if err != nil {
		return nil, err
	}

	retriever := &retrieval.Retriever{
		Index:     index,
		Embedder:  o.opts.Embedder,
		Generator: o.opts.Generator,
		Rewrite: retrieval.Rewrite{
			Model:       chatBot.Config.Model,
			Temperature: chatBot.Config.Temperature,
			Prompt:      chatBot.ContextualizePrompt,
		},
		TopK: o.opts.TopK,
	}
	done = track(ctx, "retrieve", sessionID)
	found, err := retriever.Retrieve(ctx, req.Input, hist)
	done()
	if err != nil {
		return nil, err
	}

	done = track(ctx, "generate", sessionID)
	answer, err := o.opts.Generator.Generate(ctx, llm.GenerateInput{
		Model:        chatBot.Config.Model,
		Temperature:  chatBot.Config.Temperature,
		SystemPrompt: FillContext(chatBot.AnswerPrompt, found.Chunks),
		History:      hist,
		Input:        found.Query,
	})
	done()
	if err != nil {
		return nil, err
	}

	done = track(ctx, "append_history", sessionID)
	err = stream.Append(ctx, sessionID,
		history.Message{Role: history.RoleHuman, Content: req.Input, Speaker: prompterName},
		history.Message{Role: history.RoleAI, Content: answer, Speaker: responderName},
	)
	done()
	if err != nil {
		return nil, err
	}

	return &Response{
		Answer:    answer,
		SessionID: sessionID,
		Query:     found.Query,
		Context:   found.Chunks,
	}, nil
}

func validate(req Request) error {
	if req.Prompter == nil || req.Prompter.ID() == "" {
		return apperr.Validation("prompter", "prompter id is required")
	}
	if req.Responder == nil || req.Responder.ID() == "" {
		return apperr.Validation("responder", "responder id is required")
	}
	if req.Bot == nil && req.BotID == "" {
		return apperr.Validation("bot_id", "bot id is required")
	}
	return nil
}

func (o *Orchestrator) resolveBot(ctx context.Context, req Request) (*bot.ChatBot, error) {
	b := req.Bot
	if b == nil {
		loaded, err := o.opts.Bots.LoadChat(ctx, req.BotID)
		if err != nil {
			return nil, err
		}
		b = loaded
	}
	if strings.TrimSpace(b.ContextualizePrompt) == "" {
		return nil, apperr.Configuration("contextualize_q_system_prompt", "template is required")
	}
	if strings.TrimSpace(b.AnswerPrompt) == "" {
		return nil, apperr.Configuration("qa_system_prompt", "template is required")
	}
	return b, nil
}

func describe(ctx context.Context, e character.EntityLike) (string, string, error) {
	name, err := e.Name(ctx)
	if err != nil {
		return "", "", fmt.Errorf("chain: %s %s: %w", e.Kind(), e.ID(), err)
	}
	text, err := e.ContextString(ctx)
	if err != nil {
		return "", "", fmt.Errorf("chain: %s %s: %w", e.Kind(), e.ID(), err)
	}
	return name, text, nil
}

// FillContext は検索結果を空行区切りで連結し、テンプレートの {context} を置き換えます。
// テンプレートに {context} が無ければ、空行を挟んで末尾に付け足します。
func FillContext(template string, chunks []string) string {
	joined := strings.Join(chunks, "\n\n")
	if strings.Contains(template, bot.ContextPlaceholder) {
		return strings.ReplaceAll(template, bot.ContextPlaceholder, joined)
	}
	if joined == "" {
		return template
	}
	return template + "\n\n" + joined
}
