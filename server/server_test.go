package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/sat8bit/tavern/agent"
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
	"github.com/sat8bit/tavern/turn"
)

type testServer struct {
	srv *Server
	gen *llmtest.Generator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemory()
	gen := &llmtest.Generator{}
	emb := &llmtest.HashEmbedder{}
	keyer := session.Keyer{Mode: session.ModeOrdered}
	streams := history.NewStreams(s)
	bots := bot.NewRepository(s, bot.Config{})

	builder, err := retrieval.NewBuilder(retrieval.NewSplitter(1000, 200), emb, 16)
	require.NoError(t, err)

	orch := chain.NewOrchestrator(chain.Options{
		Bots:      bots,
		Builder:   builder,
		Streams:   streams,
		Locks:     turn.NewSessionLocks(turn.PolicyQueue),
		Generator: gen,
		Embedder:  emb,
		Keyer:     keyer,
	})
	srv := New(Deps{
		Characters: character.NewRepository(s),
		Bots:       bots,
		Chain:      orch,
		Agents:     agent.NewRegistry(),
		Reasoner: &agent.Reasoner{
			Streams:   streams,
			Generator: gen,
			Splitter:  retrieval.NewSplitter(1000, 200),
			Keyer:     keyer,
		},
	})
	return &testServer{srv: srv, gen: gen}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createCharacter(t *testing.T, kind string, fields map[string]any) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/"+kind, fields)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[character.Record](t, rec).ID
}

func (ts *testServer) createBot(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/bot", map[string]any{
		"name":                          "narrator",
		"contextualize_q_system_prompt": "Rewrite the question so it stands alone.",
		"qa_system_prompt":              "Answer in character.\n\n{context}",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[bot.ChatBot](t, rec).ID
}

func TestPrompt(t *testing.T) {
	ts := newTestServer(t)
	elowen := ts.createCharacter(t, "player", map[string]any{
		"name": "Elowen", "race": "Elf", "player_class": "ranger", "level": 5, "stats": "average",
	})
	mabel := ts.createCharacter(t, "npc", map[string]any{
		"name": "Mabel", "role": "innkeeper", "description": "Keeps the Gilded Flagon.",
	})
	botID := ts.createBot(t)

	rec := ts.do(t, http.MethodPost, "/prompt", PromptRequest{
		BotID:     botID,
		Prompter:  CharacterRef{Type: "player", ID: elowen},
		Responder: CharacterRef{Type: "NPC", ID: mabel},
		Input:     "What is on tap tonight?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[chain.Response](t, rec)
	require.Equal(t, "reply to: What is on tap tonight?", res.Answer)
	require.Equal(t, session.Derive(elowen, mabel), res.SessionID)
	require.Len(t, ts.gen.Calls(), 1)
}

func TestPromptErrors(t *testing.T) {
	ts := newTestServer(t)
	elowen := ts.createCharacter(t, "player", map[string]any{"name": "Elowen", "player_class": "ranger"})
	mabel := ts.createCharacter(t, "npc", map[string]any{"name": "Mabel", "role": "innkeeper"})
	botID := ts.createBot(t)

	tests := []struct {
		name string
		req  PromptRequest
		code int
	}{
		{
			name: "missing bot id",
			req:  PromptRequest{Prompter: CharacterRef{"player", elowen}, Responder: CharacterRef{"npc", mabel}},
			code: http.StatusBadRequest,
		},
		{
			name: "unknown type",
			req:  PromptRequest{BotID: botID, Prompter: CharacterRef{"dragon", elowen}, Responder: CharacterRef{"npc", mabel}},
			code: http.StatusBadRequest,
		},
		{
			name: "missing responder id",
			req:  PromptRequest{BotID: botID, Prompter: CharacterRef{"player", elowen}, Responder: CharacterRef{Type: "npc"}},
			code: http.StatusBadRequest,
		},
		{
			name: "unknown character",
			req:  PromptRequest{BotID: botID, Prompter: CharacterRef{"player", elowen}, Responder: CharacterRef{"npc", "nobody"}},
			code: http.StatusNotFound,
		},
		{
			name: "wrong collection",
			req:  PromptRequest{BotID: botID, Prompter: CharacterRef{"npc", elowen}, Responder: CharacterRef{"npc", mabel}},
			code: http.StatusNotFound,
		},
		{
			name: "unknown bot",
			req:  PromptRequest{BotID: "nobody", Prompter: CharacterRef{"player", elowen}, Responder: CharacterRef{"npc", mabel}},
			code: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/prompt", tt.req)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			require.NotEmpty(t, decode[errorBody](t, rec).Message)
		})
	}
	require.Empty(t, ts.gen.Calls())
}

func TestPromptCapabilityFailure(t *testing.T) {
	ts := newTestServer(t)
	elowen := ts.createCharacter(t, "player", map[string]any{"name": "Elowen", "player_class": "ranger"})
	mabel := ts.createCharacter(t, "npc", map[string]any{"name": "Mabel", "role": "innkeeper"})
	botID := ts.createBot(t)

	ts.gen.Respond = func(llm.GenerateInput) (string, error) {
		return "", apperr.Capability("generate", errors.New("quota exceeded"))
	}
	rec := ts.do(t, http.MethodPost, "/prompt", PromptRequest{
		BotID:     botID,
		Prompter:  CharacterRef{"player", elowen},
		Responder: CharacterRef{"npc", mabel},
		Input:     "hello",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, decode[errorBody](t, rec).Message, "quota exceeded")
}

func TestCharacterRoutes(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCharacter(t, "npc", map[string]any{
		"name": "Bram", "role": "blacksmith", "tags": []string{"gruff"}, "lore": []string{"Forged the town gate."},
	})

	rec := ts.do(t, http.MethodGet, "/npc/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[character.Record](t, rec)
	require.Equal(t, "Bram", got.Name)
	require.Equal(t, character.KindNPC, got.Kind)
	require.Equal(t, []string{"Forged the town gate."}, got.Lore)

	rec = ts.do(t, http.MethodPatch, "/npc/"+id, FieldUpdate{Field: "tags", Value: []string{"gruff", "honest"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []string{"gruff", "honest"}, decode[character.Record](t, rec).Tags)

	rec = ts.do(t, http.MethodPatch, "/npc/"+id, FieldUpdate{Field: "player_class", Value: "fighter"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/npc/"+id, FieldUpdate{Field: "stats", Value: map[string]any{"strength": 17}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/npc/"+id, FieldUpdate{Field: "stats", Value: map[string]any{
		"strength": 17, "dexterity": 10, "constitution": 15, "intelligence": 9, "wisdom": 11, "charisma": 8,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 17, decode[character.Record](t, rec).Stats["strength"])

	rec = ts.do(t, http.MethodPost, "/npc/"+id+"/lore", map[string]string{"entry": "Owes Mabel three silver."})
	require.Equal(t, http.StatusOK, rec.Code)
	lore := decode[map[string][]string](t, rec)["lore"]
	require.Equal(t, []string{"Forged the town gate.", "Owes Mabel three silver."}, lore)

	rec = ts.do(t, http.MethodDelete, "/npc/"+id+"/lore", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/npc/"+id, nil)
	require.Empty(t, decode[character.Record](t, rec).Lore)

	rec = ts.do(t, http.MethodGet, "/player/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	entity := ts.createCharacter(t, "entity", map[string]any{"name": "Flagon", "description": "A dented pewter mug."})
	rec = ts.do(t, http.MethodPost, "/entity/"+entity+"/lore", map[string]string{"entry": "Older than the inn."})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/entity/"+entity+"/lore", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBotRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/bot", map[string]any{"name": "broken", "qa_system_prompt": "{context}"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	chatID := ts.createBot(t)
	rec = ts.do(t, http.MethodPost, "/reasoning-bot", map[string]any{
		"name":                    "observer",
		"reasoning_system_prompt": "Note what {name} wants.\n\n{context}",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reasoning := decode[bot.ReasoningBot](t, rec)
	require.Equal(t, store.CollectionMemories, reasoning.TargetCollection)

	rec = ts.do(t, http.MethodGet, "/bot/"+chatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[bot.Summary](t, rec)
	require.Equal(t, bot.KindChat, summary.Kind)
	require.Equal(t, bot.DefaultConfig.Model, summary.Config.Model)

	rec = ts.do(t, http.MethodGet, "/bot/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	ts.createCharacter(t, "player", map[string]any{"name": "Elowen", "player_class": "ranger"})
	rec = ts.do(t, http.MethodGet, "/all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[Catalog](t, rec)
	require.Len(t, all.Players, 1)
	require.Empty(t, all.NPCs)
	require.Len(t, all.Bots, 2)
}

func TestAgentRoutes(t *testing.T) {
	ts := newTestServer(t)
	elowen := ts.createCharacter(t, "player", map[string]any{"name": "Elowen", "player_class": "ranger"})
	mabel := ts.createCharacter(t, "npc", map[string]any{"name": "Mabel", "role": "innkeeper"})
	chatID := ts.createBot(t)

	rec := ts.do(t, http.MethodPost, "/reasoning-bot", map[string]any{
		"name":                    "reflector",
		"reasoning_system_prompt": "Reflect on {name}.\n\n{context}",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	reflector := decode[bot.ReasoningBot](t, rec).ID

	rec = ts.do(t, http.MethodPost, "/agent", AgentRequest{
		BotID:         chatID,
		ReasoningBots: []ReasoningBotSlot{{BotID: reflector, Frequency: 0}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodPost, "/agent", AgentRequest{
		BotID:         chatID,
		ReasoningBots: []ReasoningBotSlot{{BotID: reflector, Frequency: 2, LookBack: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	agentID := decode[map[string]string](t, rec)["id"]

	turnReq := TurnRequest{
		Prompter:  CharacterRef{"player", elowen},
		Responder: CharacterRef{"npc", mabel},
		Input:     "Any rooms free?",
	}
	rec = ts.do(t, http.MethodPost, "/agent/"+agentID+"/turn", turnReq)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[agent.Result](t, rec)
	require.Equal(t, 1, first.Turn)
	require.Empty(t, first.Reasoning)

	rec = ts.do(t, http.MethodPost, "/agent/"+agentID+"/turn", turnReq)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[agent.Result](t, rec)
	require.Equal(t, 2, second.Turn)
	require.Len(t, second.Reasoning, 1)
	require.Equal(t, reflector, second.Reasoning[0].BotID)

	rec = ts.do(t, http.MethodPost, "/agent/"+agentID+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decode[map[string]int](t, rec)["turn"])

	rec = ts.do(t, http.MethodPost, "/agent/missing/turn", turnReq)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusConflict, statusOf(apperr.ErrSessionBusy))
	require.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
	require.Equal(t, http.StatusMethodNotAllowed, statusOf(echo.NewHTTPError(http.StatusMethodNotAllowed)))
}
