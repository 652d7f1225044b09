package mcp

import (
	"context"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
)

type PromptInput struct {
	BotID         string `json:"bot_id" jsonschema:"chat bot id"`
	PrompterType  string `json:"prompter_type" jsonschema:"entity, npc, or player"`
	PrompterID    string `json:"prompter_id" jsonschema:"id of the speaking character"`
	ResponderType string `json:"responder_type" jsonschema:"entity, npc, or player"`
	ResponderID   string `json:"responder_id" jsonschema:"id of the answering character"`
	Input         string `json:"input" jsonschema:"what the prompter says"`
	SessionID     string `json:"session_id,omitempty" jsonschema:"explicit session id; derived from the two ids when empty"`
}

type PromptOutput struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type GetCharacterInput struct {
	Type string `json:"type" jsonschema:"entity, npc, or player"`
	ID   string `json:"id" jsonschema:"character id"`
}

type CharacterOutput struct {
	Record  *character.Record `json:"record"`
	Context string            `json:"context"`
}

type ListCharactersInput struct {
	Type string `json:"type,omitempty" jsonschema:"restrict to entity, npc, or player"`
}

type CharacterSummaryOutput struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type ListCharactersOutput struct {
	Characters []CharacterSummaryOutput `json:"characters"`
}

type AddLoreInput struct {
	Type  string `json:"type" jsonschema:"npc or player"`
	ID    string `json:"id" jsonschema:"character id"`
	Entry string `json:"entry" jsonschema:"lore entry to append"`
}

type AddLoreOutput struct {
	Lore []string `json:"lore"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "prompt",
		Description: "Have one character speak to another and return the in-character reply",
	}, s.handlePrompt)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_character",
		Description: "Retrieve a character and the context text used for retrieval",
	}, s.handleGetCharacter)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_characters",
		Description: "List characters, optionally of a single type",
	}, s.handleListCharacters)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "add_lore",
		Description: "Append a lore entry to an npc or player",
	}, s.handleAddLore)
}

// checkRef はストレージに触れる前に参照の形だけを検査します。
func checkRef(field, typ, id string) (character.Kind, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperr.Validation(field+"_id", "id is required")
	}
	return character.ParseKind(typ)
}

func (s *Server) resolve(ctx context.Context, field, typ, id string) (*character.Character, error) {
	kind, err := checkRef(field, typ, id)
	if err != nil {
		return nil, err
	}
	return s.chars.Resolve(ctx, kind, id)
}

func (s *Server) handlePrompt(ctx context.Context, req *sdk.CallToolRequest, input PromptInput) (*sdk.CallToolResult, PromptOutput, error) {
	if strings.TrimSpace(input.BotID) == "" {
		return nil, PromptOutput{}, apperr.Validation("bot_id", "bot id is required")
	}
	if _, err := checkRef("prompter", input.PrompterType, input.PrompterID); err != nil {
		return nil, PromptOutput{}, err
	}
	if _, err := checkRef("responder", input.ResponderType, input.ResponderID); err != nil {
		return nil, PromptOutput{}, err
	}

	prompter, err := s.resolve(ctx, "prompter", input.PrompterType, input.PrompterID)
	if err != nil {
		return nil, PromptOutput{}, err
	}
	responder, err := s.resolve(ctx, "responder", input.ResponderType, input.ResponderID)
	if err != nil {
		return nil, PromptOutput{}, err
	}
	res, err := s.chat.Invoke(ctx, chain.Request{
		Input:     input.Input,
		Prompter:  prompter,
		Responder: responder,
		BotID:     input.BotID,
		SessionID: input.SessionID,
	})
	if err != nil {
		return nil, PromptOutput{}, err
	}
	return nil, PromptOutput{Message: res.Answer, SessionID: res.SessionID}, nil
}

func (s *Server) handleGetCharacter(ctx context.Context, req *sdk.CallToolRequest, input GetCharacterInput) (*sdk.CallToolResult, CharacterOutput, error) {
	ch, err := s.resolve(ctx, "character", input.Type, input.ID)
	if err != nil {
		return nil, CharacterOutput{}, err
	}
	rec, err := ch.Record(ctx)
	if err != nil {
		return nil, CharacterOutput{}, err
	}
	return nil, CharacterOutput{Record: rec, Context: character.Render(rec)}, nil
}

func (s *Server) handleListCharacters(ctx context.Context, req *sdk.CallToolRequest, input ListCharactersInput) (*sdk.CallToolResult, ListCharactersOutput, error) {
	kinds := character.Kinds
	if input.Type != "" {
		kind, err := character.ParseKind(input.Type)
		if err != nil {
			return nil, ListCharactersOutput{}, err
		}
		kinds = []character.Kind{kind}
	}

	output := make([]CharacterSummaryOutput, 0)
	for _, kind := range kinds {
		recs, err := s.chars.List(ctx, kind)
		if err != nil {
			return nil, ListCharactersOutput{}, err
		}
		for _, r := range recs {
			output = append(output, CharacterSummaryOutput{ID: r.ID, Type: string(r.Kind), Name: r.Name})
		}
	}
	return nil, ListCharactersOutput{Characters: output}, nil
}

func (s *Server) handleAddLore(ctx context.Context, req *sdk.CallToolRequest, input AddLoreInput) (*sdk.CallToolResult, AddLoreOutput, error) {
	if strings.TrimSpace(input.Entry) == "" {
		return nil, AddLoreOutput{}, apperr.Validation("entry", "lore entry is required")
	}
	ch, err := s.resolve(ctx, "character", input.Type, input.ID)
	if err != nil {
		return nil, AddLoreOutput{}, err
	}
	if err := ch.AddLore(ctx, input.Entry); err != nil {
		return nil, AddLoreOutput{}, err
	}
	lore, err := ch.Lore(ctx)
	if err != nil {
		return nil, AddLoreOutput{}, err
	}
	return nil, AddLoreOutput{Lore: lore}, nil
}
