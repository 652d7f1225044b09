package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sat8bit/tavern/fetcher"
)

func loreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lore",
		Short: "Manage character lore",
	}
	cmd.AddCommand(importFeedCmd())
	return cmd
}

func importFeedCmd() *cobra.Command {
	var (
		target string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "import-feed <url>",
		Short: "Append the newest items of an RSS/Atom feed to a character's lore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ch, err := resolveRef(ctx, a, target)
			if err != nil {
				return err
			}
			n, err := fetcher.ImportLore(ctx, fetcher.NewRSSFetcher(args[0], limit), ch)
			if err != nil {
				return err
			}
			cmd.Printf("imported %d lore entries into %s\n", n, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "character as type:id (npc or player)")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum number of items")
	cmd.MarkFlagRequired("to")
	return cmd
}
