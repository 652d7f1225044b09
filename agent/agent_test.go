package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/llm"
	"github.com/sat8bit/tavern/llmtest"
	"github.com/sat8bit/tavern/retrieval"
	"github.com/sat8bit/tavern/session"
	"github.com/sat8bit/tavern/store"
)

type fakeChat struct {
	mu    sync.Mutex
	calls []chain.Request
	err   error
}

func (f *fakeChat) Invoke(ctx context.Context, req chain.Request) (*chain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &chain.Response{Answer: "ok: " + req.Input}, nil
}

type env struct {
	store    *store.Memory
	streams  *history.Streams
	gen      *llmtest.Generator
	reasoner *Reasoner
	elowen   *character.Character
	mabel    *character.Character
	chatBot  *bot.ChatBot
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	e := &env{
		store:   s,
		streams: history.NewStreams(s),
		gen:     &llmtest.Generator{},
		chatBot: &bot.ChatBot{ID: "chat", ContextualizePrompt: "c", AnswerPrompt: "a"},
	}
	e.reasoner = &Reasoner{
		Streams:   e.streams,
		Generator: e.gen,
		Splitter:  retrieval.NewSplitter(1000, 200),
		Keyer:     session.Keyer{Mode: session.ModeOrdered},
	}

	chars := character.NewRepository(s)
	var err error
	e.elowen, err = chars.Create(ctx, character.KindPlayer, character.Fields{Name: "Elowen", Race: "Elf", Level: 5})
	require.NoError(t, err)
	e.mabel, err = chars.Create(ctx, character.KindNPC, character.Fields{Name: "Mabel", Role: "innkeeper"})
	require.NoError(t, err)
	return e
}

func reasoningBot(id, prompt string) *bot.ReasoningBot {
	return &bot.ReasoningBot{
		ID:              id,
		Name:            id,
		ReasoningPrompt: prompt,
		Config:          bot.DefaultConfig,
	}
}

func countPrompts(calls []llm.GenerateInput, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c.SystemPrompt, prefix) {
			n++
		}
	}
	return n
}

func TestHandleInputFrequencySchedule(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	chat := &fakeChat{}

	a, err := New(chat, e.chatBot, e.reasoner,
		Schedule{Bot: reasoningBot("observer", "observe"), Frequency: 1, LookBack: 1},
		Schedule{Bot: reasoningBot("reflector", "reflect"), Frequency: 4, LookBack: 2},
	)
	require.NoError(t, err)

	var last *Result
	for i := 1; i <= 4; i++ {
		res, err := a.HandleInput(ctx, "hello", e.elowen, e.mabel)
		require.NoError(t, err)
		require.Equal(t, i, res.Turn)
		require.Equal(t, "ok: hello", res.Reply.Answer)
		if i < 4 {
			require.Len(t, res.Reasoning, 1)
		}
		last = res
	}

	calls := e.gen.Calls()
	require.Equal(t, 4, countPrompts(calls, "observe"))
	require.Equal(t, 1, countPrompts(calls, "reflect"))
	require.Len(t, chat.calls, 4)
	require.Same(t, e.chatBot, chat.calls[0].Bot)

	require.Len(t, last.Reasoning, 2)
	require.Equal(t, "observer", last.Reasoning[0].BotID)
	require.Equal(t, "reflector", last.Reasoning[1].BotID)
	require.Equal(t, 4, a.GetCurrentTurn())
}

func TestReasonerAppendsToOwnStream(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := reasoningBot("observer", "observe {name}")

	out, err := e.reasoner.Reason(ctx, b, 1, Input{Text: "hello", Prompter: e.elowen, Responder: e.mabel})
	require.NoError(t, err)
	require.Equal(t, "reply to: hello", out.Text)

	sid := session.Derive(e.elowen.ID(), e.mabel.ID())
	msgs, err := e.streams.For(history.ModeRemote, store.CollectionMemories).Messages(ctx, sid)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, history.RoleAI, msgs[0].Role)
	require.Equal(t, "observer", msgs[0].Speaker)

	// 会話ボットの Sessions ストリームには書かない
	dialogue, err := e.streams.For(history.ModeRemote, store.CollectionSessions).Messages(ctx, sid)
	require.NoError(t, err)
	require.Empty(t, dialogue)

	calls := e.gen.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "observe Elowen", calls[0].SystemPrompt)
}

func TestReasonerLooksBackTwoMessagesPerTurn(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := reasoningBot("observer", "observe:\n{context}")
	b.TargetCollection = "Observations"

	sid := session.Derive(e.elowen.ID(), e.mabel.ID())
	stream := e.streams.For(history.ModeRemote, "Observations")
	require.NoError(t, stream.Append(ctx, sid,
		history.Message{Role: history.RoleHuman, Content: "first"},
		history.Message{Role: history.RoleAI, Content: "second"},
		history.Message{Role: history.RoleHuman, Content: "third"},
		history.Message{Role: history.RoleAI, Content: "fourth"},
	))

	_, err := e.reasoner.Reason(ctx, b, 1, Input{Text: "hello", Prompter: e.elowen, Responder: e.mabel})
	require.NoError(t, err)

	prompt := e.gen.Calls()[0].SystemPrompt
	require.Equal(t, "observe:\nthird\nfourth", prompt)

	msgs, err := stream.Messages(ctx, sid)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
}

func TestHandleInputChatFailureStillCountsTurn(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	boom := apperr.Capability("generate", errors.New("down"))
	chat := &fakeChat{err: boom}

	a, err := New(chat, e.chatBot, e.reasoner, Schedule{Bot: reasoningBot("observer", "observe"), Frequency: 1})
	require.NoError(t, err)

	_, err = a.HandleInput(ctx, "hello", e.elowen, e.mabel)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, a.GetCurrentTurn())
	require.Empty(t, e.gen.Calls())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, err := New(&fakeChat{}, e.chatBot, e.reasoner,
		Schedule{Bot: reasoningBot("reflector", "reflect"), Frequency: 2})
	require.NoError(t, err)

	_, err = a.HandleInput(ctx, "one", e.elowen, e.mabel)
	require.NoError(t, err)
	a.Reset()
	require.Zero(t, a.GetCurrentTurn())

	res, err := a.HandleInput(ctx, "two", e.elowen, e.mabel)
	require.NoError(t, err)
	require.Empty(t, res.Reasoning, "turn 1 after reset is not a multiple of 2")

	// 履歴はリセットされない
	require.Equal(t, 0, countPrompts(e.gen.Calls(), "reflect"))
}

func TestNewRejectsInvalidSchedules(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name      string
		chatBot   *bot.ChatBot
		reasoner  *Reasoner
		schedules []Schedule
	}{
		{"zero frequency", e.chatBot, e.reasoner, []Schedule{{Bot: reasoningBot("a", "p"), Frequency: 0}}},
		{"negative frequency", e.chatBot, e.reasoner, []Schedule{{Bot: reasoningBot("a", "p"), Frequency: -2}}},
		{"missing bot", e.chatBot, e.reasoner, []Schedule{{Frequency: 1}}},
		{"missing chat bot", nil, e.reasoner, nil},
		{"missing reasoner", e.chatBot, nil, []Schedule{{Bot: reasoningBot("a", "p"), Frequency: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&fakeChat{}, tt.chatBot, tt.reasoner, tt.schedules...)
			require.True(t, apperr.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestRegistry(t *testing.T) {
	e := newEnv(t)
	r := NewRegistry()
	a, err := New(&fakeChat{}, e.chatBot, nil)
	require.NoError(t, err)

	id := r.Add(a)
	got, err := r.Get(id)
	require.NoError(t, err)
	require.Same(t, a, got)
	require.Equal(t, 1, r.Len())

	_, err = r.Get("missing")
	require.True(t, apperr.IsNotFound(err))
}
