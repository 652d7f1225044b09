package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
)

func chatCmd() *cobra.Command {
	var (
		botID     string
		prompter  string
		responder string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a character line by line",
		Long: `Reads lines from stdin and sends each one from the prompter to the responder.

Without --bot/--prompter/--responder the embedded seed is applied first (existing
records with the same type and name are reused) and the first player talks to
the first npc through the first chat bot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			req, err := chatParticipants(ctx, a, botID, prompter, responder)
			if err != nil {
				return err
			}
			responderName, err := req.Responder.Name(ctx)
			if err != nil {
				return err
			}

			cmd.Println("Welcome to the tavern. Type \"exit\" to leave.")
			in := bufio.NewScanner(cmd.InOrStdin())
			for {
				cmd.Printf("What would you like to ask %s? ", responderName)
				if !in.Scan() {
					break
				}
				line := strings.TrimSpace(in.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					break
				}

				req.Input = line
				res, err := a.chain.Invoke(ctx, req)
				if err != nil {
					if apperr.IsCapability(err) {
						cmd.PrintErrf("[Error] %v\n", err)
						continue
					}
					return err
				}
				cmd.Printf("%s: %s\n", responderName, res.Answer)
			}
			return in.Err()
		},
	}
	cmd.Flags().StringVar(&botID, "bot", "", "chat bot id")
	cmd.Flags().StringVar(&prompter, "prompter", "", "speaking character as type:id")
	cmd.Flags().StringVar(&responder, "responder", "", "answering character as type:id")
	return cmd
}

func chatParticipants(ctx context.Context, a *app, botID, prompter, responder string) (chain.Request, error) {
	if botID != "" && prompter != "" && responder != "" {
		p, err := resolveRef(ctx, a, prompter)
		if err != nil {
			return chain.Request{}, err
		}
		r, err := resolveRef(ctx, a, responder)
		if err != nil {
			return chain.Request{}, err
		}
		return chain.Request{Prompter: p, Responder: r, BotID: botID}, nil
	}
	if botID != "" || prompter != "" || responder != "" {
		return chain.Request{}, fmt.Errorf("--bot, --prompter and --responder must be given together")
	}

	pool, err := loadPool("")
	if err != nil {
		return chain.Request{}, err
	}
	res, err := pool.Apply(ctx, a.characters, a.bots)
	if err != nil {
		return chain.Request{}, err
	}
	var req chain.Request
	for _, c := range pool.Characters {
		switch {
		case req.Prompter == nil && c.Type == string(character.KindPlayer):
			req.Prompter = res.Characters[c.Key]
		case req.Responder == nil && c.Type == string(character.KindNPC):
			req.Responder = res.Characters[c.Key]
		}
	}
	if req.Prompter == nil || req.Responder == nil || len(pool.Bots.Chat) == 0 {
		return chain.Request{}, fmt.Errorf("seed needs a player, an npc and a chat bot")
	}
	req.Bot = res.ChatBots[pool.Bots.Chat[0].Key]
	return req, nil
}

func resolveRef(ctx context.Context, a *app, ref string) (*character.Character, error) {
	kind, id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	return a.characters.Resolve(ctx, kind, id)
}
