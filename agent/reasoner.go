package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/llm"
	"github.com/sat8bit/tavern/retrieval"
	"github.com/sat8bit/tavern/session"
)

// NamePlaceholder は推論プロンプト中で prompter の名前に置き換えられます。
const NamePlaceholder = "{name}"

// Reasoner は推論ボットを 1 回実行します。
// 推論ボットは会話履歴ではなく、自分専用のストリームだけを読み書きします。
type Reasoner struct {
	Streams   *history.Streams
	Generator llm.Generator
	Splitter  *retrieval.Splitter
	Keyer     session.Keyer
}

// Input は推論 1 回分の入力です。
type Input struct {
	Text      string
	Prompter  character.EntityLike
	Responder character.EntityLike
	// SessionID が空なら prompter と responder から導出します。
	SessionID string
}

// Output は推論ボットの出力です。
type Output struct {
	BotID   string `json:"bot_id"`
	BotName string `json:"bot_name,omitempty"`
	Text    string `json:"text"`
}

// Reason は自分のストリームから直近 lookBack ターン分（2*lookBack 件）を読み、
// それを文脈として推論し、結果を同じストリームに追記します。
func (r *Reasoner) Reason(ctx context.Context, b *bot.ReasoningBot, lookBack int, in Input) (*Output, error) {
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = r.Keyer.Key(in.Prompter.ID(), in.Responder.ID())
	}
	name, err := in.Prompter.Name(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent.Reasoner.Reason: %w", err)
	}

	stream := r.Streams.For(b.Config.Mode(), b.Stream())
	msgs, err := stream.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("agent.Reasoner.Reason: %w", err)
	}
	if lookBack < 1 {
		lookBack = 1
	}
	recent := history.Last(msgs, 2*lookBack)

	contents := make([]string, 0, len(recent))
	for _, m := range recent {
		contents = append(contents, m.Content)
	}
	chunks := r.Splitter.Split(strings.Join(contents, "\n"))

	prompt := strings.ReplaceAll(b.ReasoningPrompt, NamePlaceholder, name)
	text, err := r.Generator.Generate(ctx, llm.GenerateInput{
		Model:        b.Config.Model,
		Temperature:  b.Config.Temperature,
		SystemPrompt: chain.FillContext(prompt, chunks),
		Input:        in.Text,
	})
	if err != nil {
		return nil, err
	}

	speaker := b.Name
	if speaker == "" {
		speaker = b.ID
	}
	if err := stream.Append(ctx, sessionID, history.Message{
		Role:    history.RoleAI,
		Content: text,
		Speaker: speaker,
	}); err != nil {
		return nil, fmt.Errorf("agent.Reasoner.Reason: %w", err)
	}
	return &Output{BotID: b.ID, BotName: b.Name, Text: text}, nil
}
