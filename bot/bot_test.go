package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/store"
)

func TestChatBotLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemory(), Config{})

	created, err := repo.CreateChat(ctx, ChatBot{
		Name:                "narrator",
		ContextualizePrompt: "Rewrite the prompt so it stands alone.",
		AnswerPrompt:        "Answer as the responder.\n\n{context}",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, DefaultConfig.Model, created.Config.Model)
	require.Equal(t, history.ModeRemote, created.Config.Mode())

	loaded, err := repo.LoadChat(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created, loaded)

	summary, err := repo.Describe(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, KindChat, summary.Kind)
	require.Equal(t, "narrator", summary.Name)
}

func TestCreateChatRequiresTemplates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := NewRepository(s, Config{})

	_, err := repo.CreateChat(ctx, ChatBot{AnswerPrompt: "x"})
	require.True(t, apperr.IsConfiguration(err), "got %v", err)

	_, err = repo.CreateChat(ctx, ChatBot{ContextualizePrompt: "x"})
	require.True(t, apperr.IsConfiguration(err), "got %v", err)

	bots, err := repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, bots)
}

func TestLoadChatErrors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := NewRepository(s, Config{})

	_, err := repo.LoadChat(ctx, "missing")
	require.True(t, apperr.IsNotFound(err), "got %v", err)

	id, err := s.Insert(ctx, store.CollectionBots, store.Document{
		"name":             "broken",
		"qa_system_prompt": "answer",
		"config":           map[string]any{"model": "gemini-2.5-flash", "temperature": 0.7, "local": true},
	})
	require.NoError(t, err)

	_, err = repo.LoadChat(ctx, id)
	require.True(t, apperr.IsConfiguration(err), "got %v", err)
}

func TestReasoningBotLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemory(), Config{Model: "gemini-2.5-flash", Temperature: 0.2})

	created, err := repo.CreateReasoning(ctx, ReasoningBot{
		Name:            "observer",
		ReasoningPrompt: "Note what the responder noticed.\n\n{context}",
		Config:          Config{Local: true},
	})
	require.NoError(t, err)
	require.Equal(t, store.CollectionMemories, created.TargetCollection)
	require.Equal(t, "gemini-2.5-flash", created.Config.Model)
	require.InDelta(t, 0.2, created.Config.Temperature, 1e-9)
	require.Equal(t, history.ModeLocal, created.Config.Mode())

	loaded, err := repo.LoadReasoning(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created, loaded)

	bots, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	require.Equal(t, KindReasoning, bots[0].Kind)
}
