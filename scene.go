package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sat8bit/tavern/agent"
	"github.com/sat8bit/tavern/bus"
	"github.com/sat8bit/tavern/buslog"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/renderer"
	"github.com/sat8bit/tavern/scene"
)

func sceneCmd() *cobra.Command {
	var (
		opening  string
		maxTurns int
		numCast  int
		outDir   string
		gap      time.Duration
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Let seeded characters talk to each other for a number of turns",
		Long: `Seeds the store (reusing records with the same type and name) and
lets a random cast talk to each other for a number of turns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			// --- seed からキャストとボットを用意する ---
			pool, err := loadPool("")
			if err != nil {
				return err
			}
			res, err := pool.Apply(ctx, a.characters, a.bots)
			if err != nil {
				return err
			}
			picked, err := pool.GetRandomN(numCast)
			if err != nil {
				return err
			}
			cast := make([]character.EntityLike, 0, len(picked))
			for _, c := range picked {
				cast = append(cast, res.Characters[c.Key])
			}
			if len(pool.Bots.Chat) == 0 {
				return fmt.Errorf("seed has no chat bot")
			}
			ag, err := agent.New(a.chain, res.ChatBots[pool.Bots.Chat[0].Key], a.reasoner, res.Schedules...)
			if err != nil {
				return err
			}

			// --- レンダラーを初期化 ---
			b := bus.NewMemoryBus(bus.DefaultBuffer)
			var wg sync.WaitGroup

			console := renderer.NewConsole(os.Stdout)
			console.Delay = delay
			console.ShowLogs = verbose
			if err := console.Render(b, &wg); err != nil {
				return fmt.Errorf("failed to initialize console renderer: %w", err)
			}
			renderers := []renderer.Renderer{console}
			if outDir != "" {
				md := renderer.NewMarkdown(outDir)
				if err := md.Render(b, &wg); err != nil {
					return fmt.Errorf("failed to initialize markdown renderer: %w", err)
				}
				renderers = append(renderers, md)
			}

			prev := slog.Default()
			defer slog.SetDefault(prev)
			if verbose {
				slog.SetDefault(slog.New(buslog.Fanout{prev.Handler(), buslog.NewBusHandler(b, slog.LevelDebug)}))
			}

			sc, err := scene.New(scene.Options{
				Turner:   ag,
				Cast:     cast,
				Bus:      b,
				MaxTurns: maxTurns,
				Gap:      gap,
			})
			if err != nil {
				return err
			}
			runErr := sc.Run(ctx, opening)

			// 残りの出力を拾ってから閉じる
			slog.SetDefault(prev)
			b.Close()
			wg.Wait()
			if dropped := b.Dropped(); dropped > 0 {
				slog.Warn("bus dropped messages", "count", dropped)
			}
			for _, r := range renderers {
				if err := r.Finalize(); err != nil {
					slog.Error("failed to finalize renderer", "error", err)
				}
			}
			if runErr != nil && ctx.Err() == nil {
				return runErr
			}
			fmt.Println("")
			fmt.Println("Shutting down...")
			return nil
		},
	}
	cmd.Flags().StringVar(&opening, "opening", "Another round for the table, and tell me what brings you here.", "first line of the scene")
	cmd.Flags().IntVar(&maxTurns, "turns", 8, "maximum number of turns")
	cmd.Flags().IntVar(&numCast, "cast", 3, "number of characters taking part")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for the markdown transcript (none when empty)")
	cmd.Flags().DurationVar(&gap, "gap", 0, "pause between turns")
	cmd.Flags().DurationVar(&delay, "delay", 15*time.Millisecond, "per-character delay on the console")
	return cmd
}
