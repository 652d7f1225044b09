package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sat8bit/tavern/agent"
	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
)

// CharacterRef は {type, id} 形式のキャラクター参照です。
type CharacterRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PromptRequest は POST /prompt の本文です。
type PromptRequest struct {
	BotID     string       `json:"bot_id"`
	Prompter  CharacterRef `json:"prompter"`
	Responder CharacterRef `json:"responder"`
	Input     string       `json:"input"`
	SessionID string       `json:"session_id,omitempty"`
}

// check はストレージに触れる前に参照の形だけを検査します。
func (r CharacterRef) check(field string) (character.Kind, error) {
	if strings.TrimSpace(r.ID) == "" {
		return "", apperr.Validation(field+".id", "id is required")
	}
	return character.ParseKind(r.Type)
}

func (s *Server) resolveRef(ctx context.Context, r CharacterRef, field string) (*character.Character, error) {
	kind, err := r.check(field)
	if err != nil {
		return nil, err
	}
	return s.deps.Characters.Resolve(ctx, kind, r.ID)
}

func (s *Server) prompt(c echo.Context) error {
	req := new(PromptRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.BotID) == "" {
		return apperr.Validation("bot_id", "bot id is required")
	}
	if _, err := req.Prompter.check("prompter"); err != nil {
		return err
	}
	if _, err := req.Responder.check("responder"); err != nil {
		return err
	}

	ctx := c.Request().Context()
	prompter, err := s.resolveRef(ctx, req.Prompter, "prompter")
	if err != nil {
		return err
	}
	responder, err := s.resolveRef(ctx, req.Responder, "responder")
	if err != nil {
		return err
	}

	res, err := s.deps.Chain.Invoke(ctx, chain.Request{
		Input:     req.Input,
		Prompter:  prompter,
		Responder: responder,
		BotID:     req.BotID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) createCharacter(kind character.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		fields := new(character.Fields)
		if err := c.Bind(fields); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		ctx := c.Request().Context()
		created, err := s.deps.Characters.Create(ctx, kind, *fields)
		if err != nil {
			return err
		}
		rec, err := created.Record(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, rec)
	}
}

func (s *Server) getCharacter(kind character.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ch, err := s.deps.Characters.Resolve(ctx, kind, c.Param("id"))
		if err != nil {
			return err
		}
		rec, err := ch.Record(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, rec)
	}
}

// FieldUpdate は PATCH /:kind/:id の本文です。1 回に 1 フィールドだけ書き換えます。
type FieldUpdate struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (s *Server) patchCharacter(kind character.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := new(FieldUpdate)
		if err := c.Bind(req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.Field == "" {
			return apperr.Validation("field", "field is required")
		}
		ctx := c.Request().Context()
		ch, err := s.deps.Characters.Resolve(ctx, kind, c.Param("id"))
		if err != nil {
			return err
		}
		if err := ch.SetField(ctx, req.Field, req.Value); err != nil {
			return err
		}
		rec, err := ch.Record(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, rec)
	}
}

type loreRequest struct {
	Entry string `json:"entry"`
}

func (s *Server) addLore(kind character.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := new(loreRequest)
		if err := c.Bind(req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Entry) == "" {
			return apperr.Validation("entry", "lore entry is required")
		}
		ctx := c.Request().Context()
		ch, err := s.deps.Characters.Resolve(ctx, kind, c.Param("id"))
		if err != nil {
			return err
		}
		if err := ch.AddLore(ctx, req.Entry); err != nil {
			return err
		}
		lore, err := ch.Lore(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"lore": lore})
	}
}

func (s *Server) wipeLore(kind character.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ch, err := s.deps.Characters.Resolve(ctx, kind, c.Param("id"))
		if err != nil {
			return err
		}
		if !kind.Has(character.FieldLore) {
			return apperr.Validation(character.FieldLore, string(kind)+" has no lore")
		}
		if err := ch.WipeLore(ctx); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Server) createChatBot(c echo.Context) error {
	req := new(bot.ChatBot)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.ID = ""
	created, err := s.deps.Bots.CreateChat(c.Request().Context(), *req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) createReasoningBot(c echo.Context) error {
	req := new(bot.ReasoningBot)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.ID = ""
	created, err := s.deps.Bots.CreateReasoning(c.Request().Context(), *req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) getBot(c echo.Context) error {
	summary, err := s.deps.Bots.Describe(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// Catalog は GET /all の応答です。
type Catalog struct {
	Entities []*character.Record `json:"entities"`
	NPCs     []*character.Record `json:"npcs"`
	Players  []*character.Record `json:"players"`
	Bots     []*bot.Summary      `json:"bots"`
}

func (s *Server) listAll(c echo.Context) error {
	ctx := c.Request().Context()
	var out Catalog
	for _, kind := range character.Kinds {
		recs, err := s.deps.Characters.List(ctx, kind)
		if err != nil {
			return err
		}
		switch kind {
		case character.KindEntity:
			out.Entities = recs
		case character.KindNPC:
			out.NPCs = recs
		case character.KindPlayer:
			out.Players = recs
		}
	}
	bots, err := s.deps.Bots.List(ctx)
	if err != nil {
		return err
	}
	out.Bots = bots
	return c.JSON(http.StatusOK, out)
}

// AgentRequest は POST /agent の本文です。
type AgentRequest struct {
	BotID         string             `json:"bot_id"`
	ReasoningBots []ReasoningBotSlot `json:"reasoning_bots"`
}

type ReasoningBotSlot struct {
	BotID     string `json:"bot_id"`
	Frequency int    `json:"frequency"`
	LookBack  int    `json:"look_back"`
}

func (s *Server) createAgent(c echo.Context) error {
	req := new(AgentRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.BotID) == "" {
		return apperr.Validation("bot_id", "bot id is required")
	}

	ctx := c.Request().Context()
	chatBot, err := s.deps.Bots.LoadChat(ctx, req.BotID)
	if err != nil {
		return err
	}
	schedules := make([]agent.Schedule, 0, len(req.ReasoningBots))
	for _, slot := range req.ReasoningBots {
		rb, err := s.deps.Bots.LoadReasoning(ctx, slot.BotID)
		if err != nil {
			return err
		}
		schedules = append(schedules, agent.Schedule{Bot: rb, Frequency: slot.Frequency, LookBack: slot.LookBack})
	}

	a, err := agent.New(s.deps.Chain, chatBot, s.deps.Reasoner, schedules...)
	if err != nil {
		return err
	}
	id := s.deps.Agents.Add(a)
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

// TurnRequest は POST /agent/:id/turn の本文です。
type TurnRequest struct {
	Prompter  CharacterRef `json:"prompter"`
	Responder CharacterRef `json:"responder"`
	Input     string       `json:"input"`
}

func (s *Server) agentTurn(c echo.Context) error {
	req := new(TurnRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := req.Prompter.check("prompter"); err != nil {
		return err
	}
	if _, err := req.Responder.check("responder"); err != nil {
		return err
	}
	a, err := s.deps.Agents.Get(c.Param("id"))
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	prompter, err := s.resolveRef(ctx, req.Prompter, "prompter")
	if err != nil {
		return err
	}
	responder, err := s.resolveRef(ctx, req.Responder, "responder")
	if err != nil {
		return err
	}
	res, err := a.HandleInput(ctx, req.Input, prompter, responder)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) agentReset(c echo.Context) error {
	a, err := s.deps.Agents.Get(c.Param("id"))
	if err != nil {
		return err
	}
	a.Reset()
	return c.JSON(http.StatusOK, map[string]int{"turn": a.GetCurrentTurn()})
}
