package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/llm"
	"github.com/sat8bit/tavern/llmtest"
	"github.com/sat8bit/tavern/retrieval"
	"github.com/sat8bit/tavern/session"
	"github.com/sat8bit/tavern/store"
	"github.com/sat8bit/tavern/turn"
)

const (
	contextualizePrompt = "Given a chat history and the latest prompt, formulate a standalone prompt."
	answerPrompt        = "You are the responder in a tabletop role-play. Answer in character.\n\n{context}"
)

type fixture struct {
	store   *store.Memory
	chars   *character.Repository
	bots    *bot.Repository
	streams *history.Streams
	locks   *turn.SessionLocks
	gen     *llmtest.Generator
	emb     *llmtest.HashEmbedder
	orch    *Orchestrator

	elowen *character.Character
	mabel  *character.Character
	botID  string
}

func newFixture(t *testing.T, policy turn.Policy) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: store.NewMemory(),
		gen:   &llmtest.Generator{},
		emb:   &llmtest.HashEmbedder{},
		locks: turn.NewSessionLocks(policy),
	}
	f.chars = character.NewRepository(f.store)
	f.bots = bot.NewRepository(f.store, bot.Config{})
	f.streams = history.NewStreams(f.store)

	builder, err := retrieval.NewBuilder(retrieval.NewSplitter(1000, 200), f.emb, 16)
	require.NoError(t, err)

	f.orch = NewOrchestrator(Options{
		Bots:      f.bots,
		Builder:   builder,
		Streams:   f.streams,
		Locks:     f.locks,
		Generator: f.gen,
		Embedder:  f.emb,
		Keyer:     session.Keyer{Mode: session.ModeOrdered},
	})

	f.elowen, err = f.chars.Create(ctx, character.KindPlayer, character.Fields{
		Name:        "Elowen",
		Race:        "Elf",
		Description: "A quiet ranger from Silverwood.",
		Stats:       "average",
		PlayerClass: "ranger",
		Level:       5,
	})
	require.NoError(t, err)

	f.mabel, err = f.chars.Create(ctx, character.KindNPC, character.Fields{
		Name:        "Mabel",
		Race:        "Human",
		Description: "Keeps the Gilded Flagon. Tonight she serves dark ale and pear cider.",
		Role:        "innkeeper",
	})
	require.NoError(t, err)

	b, err := f.bots.CreateChat(ctx, bot.ChatBot{
		Name:                "narrator",
		ContextualizePrompt: contextualizePrompt,
		AnswerPrompt:        answerPrompt,
	})
	require.NoError(t, err)
	f.botID = b.ID
	return f
}

func (f *fixture) sessionDocs(t *testing.T, sessionID string) []store.Document {
	t.Helper()
	docs, err := f.store.Find(context.Background(), store.CollectionSessions, "session_id", sessionID)
	require.NoError(t, err)
	return docs
}

func TestInvokeEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)

	const input = "What brews do you have tonight?"
	res, err := f.orch.Invoke(ctx, Request{
		Input:     input,
		Prompter:  f.elowen,
		Responder: f.mabel,
		BotID:     f.botID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Answer)

	sid := session.Derive(f.elowen.ID(), f.mabel.ID())
	require.Equal(t, sid, res.SessionID)

	docs := f.sessionDocs(t, sid)
	require.Len(t, docs, 2)
	require.Equal(t, "human", docs[0]["type"])
	require.Equal(t, input, docs[0]["content"])
	require.Equal(t, "Elowen", docs[0]["speaker"])
	require.Equal(t, "ai", docs[1]["type"])
	require.Equal(t, res.Answer, docs[1]["content"])
	require.Equal(t, "Mabel", docs[1]["speaker"])

	// 履歴が空なので書き換えは行われず、生成は 1 回だけ
	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, input, calls[0].Input)
	require.Contains(t, calls[0].SystemPrompt, "RESPONDER_CONTEXT:")
	require.NotContains(t, calls[0].SystemPrompt, "{context}")
	require.Equal(t, bot.DefaultConfig.Model, calls[0].Model)

	require.Empty(t, f.sessionDocs(t, session.Derive(f.mabel.ID(), f.elowen.ID())))
}

func TestInvokeSecondTurnUsesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)
	f.gen.Respond = func(in llm.GenerateInput) (string, error) {
		if in.SystemPrompt == contextualizePrompt {
			return "Which cider does Mabel serve tonight?", nil
		}
		return "Pear cider, dear.", nil
	}

	req := Request{Input: "What brews do you have tonight?", Prompter: f.elowen, Responder: f.mabel, BotID: f.botID}
	_, err := f.orch.Invoke(ctx, req)
	require.NoError(t, err)

	req.Input = "And the cider?"
	res, err := f.orch.Invoke(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "Which cider does Mabel serve tonight?", res.Query)

	calls := f.gen.Calls()
	require.Len(t, calls, 3)
	require.Equal(t, contextualizePrompt, calls[1].SystemPrompt)
	require.Len(t, calls[1].History, 2)
	require.Len(t, calls[2].History, 2)
	require.Equal(t, "Which cider does Mabel serve tonight?", calls[2].Input)

	require.Len(t, f.sessionDocs(t, res.SessionID), 4)
	// 索引の構築 1 回と、各ターンの質問の埋め込み 2 回
	require.Equal(t, 3, f.emb.Calls())
}

func TestInvokeGenerationFailureLeavesNoHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)
	boom := apperr.Capability("generate", errors.New("quota exceeded"))
	f.gen.Respond = func(in llm.GenerateInput) (string, error) {
		return "", boom
	}

	_, err := f.orch.Invoke(ctx, Request{Input: "hello", Prompter: f.elowen, Responder: f.mabel, BotID: f.botID})
	require.ErrorIs(t, err, boom)
	require.True(t, apperr.IsCapability(err))

	require.Empty(t, f.sessionDocs(t, session.Derive(f.elowen.ID(), f.mabel.ID())))
}

func TestInvokeEmbeddingFailurePropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)
	f.emb.Err = apperr.Capability("embed", errors.New("unavailable"))

	_, err := f.orch.Invoke(ctx, Request{Input: "hello", Prompter: f.elowen, Responder: f.mabel, BotID: f.botID})
	require.True(t, apperr.IsCapability(err), "got %v", err)
	require.Empty(t, f.gen.Calls())
}

func TestInvokeBotErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)

	_, err := f.orch.Invoke(ctx, Request{Input: "hi", Prompter: f.elowen, Responder: f.mabel, BotID: "missing"})
	require.True(t, apperr.IsNotFound(err), "got %v", err)

	_, err = f.orch.Invoke(ctx, Request{
		Input: "hi", Prompter: f.elowen, Responder: f.mabel,
		Bot: &bot.ChatBot{ContextualizePrompt: contextualizePrompt},
	})
	require.True(t, apperr.IsConfiguration(err), "got %v", err)

	require.Empty(t, f.gen.Calls())
	require.Zero(t, f.emb.Calls())
}

func TestInvokeValidatesBeforeAnyCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing prompter", Request{Input: "hi", Responder: f.mabel, BotID: f.botID}},
		{"missing responder", Request{Input: "hi", Prompter: f.elowen, BotID: f.botID}},
		{"missing bot", Request{Input: "hi", Prompter: f.elowen, Responder: f.mabel}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Invoke(ctx, tt.req)
			require.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
	require.Empty(t, f.gen.Calls())
	require.Zero(t, f.emb.Calls())
}

func TestInvokeFailsFastOnBusySession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyFail)

	sid := session.Derive(f.elowen.ID(), f.mabel.ID())
	release, err := f.locks.Acquire(ctx, sid)
	require.NoError(t, err)

	_, err = f.orch.Invoke(ctx, Request{Input: "hi", Prompter: f.elowen, Responder: f.mabel, BotID: f.botID})
	require.ErrorIs(t, err, apperr.ErrSessionBusy)

	release()
	_, err = f.orch.Invoke(ctx, Request{Input: "hi", Prompter: f.elowen, Responder: f.mabel, BotID: f.botID})
	require.NoError(t, err)
}

func TestInvokeLocalModeKeepsHistoryInProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)

	local := &bot.ChatBot{
		ContextualizePrompt: contextualizePrompt,
		AnswerPrompt:        answerPrompt,
		Config:              bot.Config{Model: "gemini-2.5-flash", Local: true},
	}
	res, err := f.orch.Invoke(ctx, Request{Input: "hi", Prompter: f.elowen, Responder: f.mabel, Bot: local})
	require.NoError(t, err)

	require.Empty(t, f.sessionDocs(t, res.SessionID))
	msgs, err := f.streams.For(history.ModeLocal, store.CollectionSessions).Messages(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestInvokeExplicitSessionID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.PolicyQueue)

	res, err := f.orch.Invoke(ctx, Request{
		Input: "hi", Prompter: f.elowen, Responder: f.mabel, BotID: f.botID,
		SessionID: "campaign-1",
	})
	require.NoError(t, err)
	require.Equal(t, "campaign-1", res.SessionID)
	require.Len(t, f.sessionDocs(t, "campaign-1"), 2)
}

func TestFillContext(t *testing.T) {
	require.Equal(t, "ctx:\na\n\nb", FillContext("ctx:\n{context}", []string{"a", "b"}))
	require.Equal(t, "answer\n\na", FillContext("answer", []string{"a"}))
	require.Equal(t, "answer", FillContext("answer", nil))
}
