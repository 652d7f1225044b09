package renderer

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/sat8bit/tavern/bus"
	"github.com/sat8bit/tavern/message"
)

const markdownTemplate = `+++
title = {{ .Title }}
date = {{ .Date }}
tags = {{ .Tags }}
+++

{{ .Body }}`

// Markdown はシーンの記録を Hugo 形式の Markdown ファイルとして書き出します。
// メッセージは Render で集め、Finalize でまとめて書き出します。
type Markdown struct {
	outputDir string
	// Now はファイル名と日付に使う時刻です。
	Now func() time.Time

	mu       sync.Mutex
	messages []*message.Message
	path     string
}

func NewMarkdown(outputDir string) *Markdown {
	return &Markdown{outputDir: outputDir, Now: time.Now}
}

func (r *Markdown) Render(b bus.Bus, wg *sync.WaitGroup) error {
	ch := b.Subscribe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for m := range ch {
			if m.Kind == message.KindLog {
				continue
			}
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		}
	}()
	return nil
}

// Path は書き出したファイルのパスです。まだ書き出していなければ空です。
func (r *Markdown) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Finalize は集めた会話を書き出します。
// 発言が 2 件未満、またはエラーで終わったシーンは書き出しません。
func (r *Markdown) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var says int
	for _, m := range r.messages {
		if m.Kind == message.KindError {
			slog.Info("Error message detected, skipping markdown transcript.")
			return nil
		}
		if m.Kind == message.KindSay {
			says++
		}
	}
	if says < 2 {
		return nil
	}

	now := r.Now()
	content, err := r.document(now)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("renderer.Markdown.Finalize: %w", err)
	}
	path := filepath.Join(r.outputDir, now.Format("20060102-150405")+".md")
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("renderer.Markdown.Finalize: %w", err)
	}
	r.path = path
	slog.Info("Markdown transcript generated", "path", path)
	return nil
}

func (r *Markdown) document(now time.Time) ([]byte, error) {
	title := "Tavern Scene"
	seen := make(map[string]bool)
	var cast []string
	var announce string
	var log strings.Builder

	for _, m := range r.messages {
		switch m.Kind {
		case message.KindSystem:
			if announce == "" {
				announce = m.Text
			}
			if opening := m.Meta["opening"]; opening != "" && title == "Tavern Scene" {
				title = opening
			}
		case message.KindSay:
			if !seen[m.From] {
				seen[m.From] = true
				cast = append(cast, m.From)
			}
			fmt.Fprintf(&log, "**%s**: %s\n\n", m.From, m.Text)
		case message.KindReasoning:
			fmt.Fprintf(&log, "> _%s_: %s\n\n", m.From, m.Text)
		}
	}
	sort.Strings(cast)

	var body strings.Builder
	if announce != "" {
		fmt.Fprintf(&body, "> %s\n\n---\n\n", announce)
	}
	body.WriteString("## Cast\n\n")
	for _, name := range cast {
		fmt.Fprintf(&body, "- **%s**\n", name)
	}
	body.WriteString("\n---\n\n## Transcript\n\n")
	body.WriteString(log.String())

	tags := make([]string, 0, len(cast))
	for _, name := range cast {
		tags = append(tags, fmt.Sprintf("%q", name))
	}

	tmpl, err := template.New("markdown").Parse(markdownTemplate)
	if err != nil {
		return nil, fmt.Errorf("renderer.Markdown: parse template: %w", err)
	}
	data := struct {
		Title string
		Date  string
		Tags  string
		Body  string
	}{
		Title: fmt.Sprintf("%q", title),
		Date:  fmt.Sprintf("%q", now.Format(time.RFC3339)),
		Tags:  fmt.Sprintf("[%s]", strings.Join(tags, ", ")),
		Body:  body.String(),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("renderer.Markdown: execute template: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Renderer = (*Markdown)(nil)
