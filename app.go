package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sat8bit/tavern/agent"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/config"
	"github.com/sat8bit/tavern/history"
	"github.com/sat8bit/tavern/llm"
	"github.com/sat8bit/tavern/logging"
	"github.com/sat8bit/tavern/retrieval"
	"github.com/sat8bit/tavern/session"
	"github.com/sat8bit/tavern/store"
	"github.com/sat8bit/tavern/store/postgres"
	"github.com/sat8bit/tavern/store/sqlite"
	"github.com/sat8bit/tavern/turn"
)

// app はコマンド間で共有する部品です。
type app struct {
	cfg        *config.Config
	store      store.Store
	characters *character.Repository
	bots       *bot.Repository
	streams    *history.Streams
	chain      *chain.Orchestrator
	reasoner   *agent.Reasoner
	logCloser  io.Closer
}

// loadConfig は設定を読み込み、ロガーを初期化します。
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

// openStore は store.driver に従ってストアを開きます。
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err = sqlite.Open(ctx, cfg.DSN)
	case config.DriverPostgres:
		s, err = postgres.Open(ctx, cfg.DSN)
	case config.DriverMemory:
		s = store.NewMemory()
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}
	if cfg.CacheSize > 0 {
		cached, err := store.NewCached(s, cfg.CacheSize)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s = cached
	}
	slog.Debug("store opened", "driver", cfg.Driver, "cache_size", cfg.CacheSize)
	return s, nil
}

// newApp は設定・ストア・LLM クライアントから会話ワークフローを組み立てます。
func newApp(ctx context.Context) (*app, error) {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	gemini, err := llm.NewGemini(ctx, cfg.GeminiOptions())
	if err != nil {
		s.Close(ctx)
		logCloser.Close()
		return nil, err
	}

	cacheSize := 0
	if cfg.Retrieval.ReuseIndex {
		cacheSize = cfg.Retrieval.IndexCacheSize
	}
	splitter := retrieval.NewSplitter(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	builder, err := retrieval.NewBuilder(splitter, gemini, cacheSize)
	if err != nil {
		s.Close(ctx)
		logCloser.Close()
		return nil, err
	}

	keyer := session.Keyer{Mode: cfg.KeyMode()}
	bots := bot.NewRepository(s, cfg.BotDefaults())
	streams := history.NewStreams(s)

	return &app{
		cfg:        cfg,
		store:      s,
		characters: character.NewRepository(s),
		bots:       bots,
		streams:    streams,
		chain: chain.NewOrchestrator(chain.Options{
			Bots:      bots,
			Builder:   builder,
			Streams:   streams,
			Locks:     turn.NewSessionLocks(cfg.LockPolicy()),
			Generator: gemini,
			Embedder:  gemini,
			Keyer:     keyer,
			TopK:      cfg.Retrieval.TopK,
		}),
		reasoner: &agent.Reasoner{
			Streams:   streams,
			Generator: gemini,
			Splitter:  splitter,
			Keyer:     keyer,
		},
		logCloser: logCloser,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
	a.logCloser.Close()
}

// signalContext は Ctrl+C で cancel される context を返します。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
