package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/seed"
)

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the demo characters and bots to the store",
		Long: `Writes the demo characters and bots to the store.
Records that already exist with the same type and name are reused as they are.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			pool, err := loadPool(file)
			if err != nil {
				return err
			}
			res, err := pool.Apply(ctx, a.characters, a.bots)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(res.Characters))
			for k := range res.Characters {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				c := res.Characters[k]
				cmd.Printf("%-8s %-10s %s\n", c.Kind(), k, c.ID())
			}
			for k, b := range res.ChatBots {
				cmd.Printf("%-8s %-10s %s\n", "bot", k, b.ID)
			}
			for _, s := range res.Schedules {
				cmd.Printf("%-8s %-10s %s (every %d turns)\n", "reasoner", s.Bot.Name, s.Bot.ID, s.Frequency)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed YAML (embedded seed.yaml when empty)")
	return cmd
}

func loadPool(file string) (*seed.Pool, error) {
	if file == "" {
		return seed.NewPool()
	}
	return seed.LoadFile(file)
}

// parseRef は "npc:<id>" 形式の参照を種類と ID に分けます。
func parseRef(s string) (character.Kind, string, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("character reference must look like type:id, got %q", s)
	}
	kind, err := character.ParseKind(typ)
	if err != nil {
		return "", "", err
	}
	return kind, id, nil
}
