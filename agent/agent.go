// Package agent は会話ボットと推論ボットを束ね、ターン数に応じて推論ボットを動かします。
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/turn"
)

// Invoker は会話ボットの 1 ターンを実行します。chain.Orchestrator が実装します。
type Invoker interface {
	Invoke(ctx context.Context, req chain.Request) (*chain.Response, error)
}

// Schedule は推論ボットの実行間隔です。
// Frequency ターンごとに実行され、直近 LookBack ターン分の自分の記憶を参照します。
type Schedule struct {
	Bot       *bot.ReasoningBot
	Frequency int
	LookBack  int
}

// Result は HandleInput の結果です。
type Result struct {
	Reply     *chain.Response `json:"reply"`
	Reasoning []Output        `json:"reasoning"`
	Turn      int             `json:"turn"`
}

// Agent は会話のターン数を数え、スケジュールに従って推論ボットを呼び出します。
type Agent struct {
	chat      Invoker
	chatBot   *bot.ChatBot
	reasoner  *Reasoner
	schedules []Schedule

	mu        sync.Mutex
	turnCount int
}

// New は Agent を生成します。Frequency が 1 未満のスケジュールは ConfigurationError です。
func New(chat Invoker, chatBot *bot.ChatBot, reasoner *Reasoner, schedules ...Schedule) (*Agent, error) {
	if chatBot == nil {
		return nil, apperr.Configuration("bot", "chat bot is required")
	}
	for _, s := range schedules {
		if s.Bot == nil {
			return nil, apperr.Configuration("reasoning_bots", "reasoning bot is required")
		}
		if s.Frequency < 1 {
			return nil, apperr.Configuration("frequency", fmt.Sprintf("bot %s: frequency must be positive, got %d", s.Bot.ID, s.Frequency))
		}
	}
	if len(schedules) > 0 && reasoner == nil {
		return nil, apperr.Configuration("reasoner", "reasoner is required when reasoning bots are scheduled")
	}
	return &Agent{
		chat:      chat,
		chatBot:   chatBot,
		reasoner:  reasoner,
		schedules: schedules,
	}, nil
}

// HandleInput はターン数を進めてから会話ボットを呼び出し、
// 現在のターン数で割り切れる間隔を持つ推論ボットを登録順に実行します。
// 会話ボットが失敗してもターン数は戻りません。
func (a *Agent) HandleInput(ctx context.Context, input string, prompter, responder character.EntityLike) (*Result, error) {
	a.mu.Lock()
	a.turnCount++
	current := a.turnCount
	a.mu.Unlock()

	reply, err := a.chat.Invoke(ctx, chain.Request{
		Input:     input,
		Prompter:  prompter,
		Responder: responder,
		Bot:       a.chatBot,
	})
	if err != nil {
		return nil, err
	}

	outputs := make([]Output, 0)
	for _, s := range a.selected(current) {
		out, err := a.reasoner.Reason(ctx, s.Bot, s.LookBack, Input{
			Text:      input,
			Prompter:  prompter,
			Responder: responder,
		})
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, *out)
	}

	return &Result{Reply: reply, Reasoning: outputs, Turn: current}, nil
}

func (a *Agent) selected(turnCount int) []Schedule {
	var out []Schedule
	for _, s := range a.schedules {
		if turnCount%s.Frequency == 0 {
			out = append(out, s)
		}
	}
	return out
}

// Reset はターン数を 0 に戻します。保存済みの履歴には触れません。
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turnCount = 0
}

// GetCurrentTurn は、現在のターン数を返します。
func (a *Agent) GetCurrentTurn() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnCount
}

var _ turn.TurnProvider = (*Agent)(nil)
