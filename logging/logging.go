// Package logging はプロセス全体の slog ロガーを組み立てます。
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sat8bit/tavern/config"
)

// New は cfg に従って slog.Handler を作ります。
// log.file が空なら標準エラーへテキストで、設定されていればローテートするファイルへ JSON で書きます。
// 返す io.Closer はファイルを閉じるためのもので、標準エラーの場合は何もしません。
func New(cfg config.LogConfig) (slog.Handler, io.Closer, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.File == "" {
		return slog.NewTextHandler(os.Stderr, opts), nopCloser{}, nil
	}

	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	return slog.NewJSONHandler(w, opts), w, nil
}

// Setup は New で作ったハンドラをデフォルトのロガーに設定します。
func Setup(cfg config.LogConfig) (io.Closer, error) {
	h, closer, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(h))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
