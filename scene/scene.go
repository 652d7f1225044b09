// Package scene は複数のキャラクターに順番に会話させるシナリオを実行します。
package scene

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sat8bit/tavern/agent"
	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/bus"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/message"
	"github.com/sat8bit/tavern/turn"
)

// Turner は 1 ターン分の会話を処理します。agent.Agent が実装します。
type Turner interface {
	HandleInput(ctx context.Context, input string, prompter, responder character.EntityLike) (*agent.Result, error)
}

// Options は Scene の設定です。
type Options struct {
	Turner Turner
	Cast   []character.EntityLike
	Bus    bus.Bus
	// Floor は発話権です。nil なら Scene ごとに新しい MutexManager を使います。
	Floor    turn.Manager
	MaxTurns int
	// Gap はターン間の待ち時間です。
	Gap time.Duration
}

// Scene は Cast を順番に回し、直前の返答を次の入力にして会話を進めます。
// ターン i では Cast[i%n] が prompter、Cast[(i+1)%n] が responder です。
type Scene struct {
	opts Options
}

func New(opts Options) (*Scene, error) {
	if opts.Turner == nil {
		return nil, apperr.Configuration("agent", "scene needs an agent")
	}
	if len(opts.Cast) < 2 {
		return nil, apperr.Validation("cast", "scene needs at least two characters")
	}
	if opts.MaxTurns < 1 {
		return nil, apperr.Validation("turns", "scene needs at least one turn")
	}
	if opts.Bus == nil {
		return nil, apperr.Configuration("bus", "scene needs a bus")
	}
	if opts.Floor == nil {
		opts.Floor = turn.NewMutexManager()
	}
	return &Scene{opts: opts}, nil
}

// Run は opening を最初の入力として MaxTurns ターン会話を進めます。
// 途中で失敗した場合はエラーメッセージを流してから、そのエラーを返します。
// 終了時には成否にかかわらず KindEnd を流します。
func (s *Scene) Run(ctx context.Context, opening string) error {
	names, err := s.castNames(ctx)
	if err != nil {
		return err
	}

	defer func() {
		s.broadcast(ctx, &message.Message{Kind: message.KindEnd, Text: "scene ended", At: time.Now()})
	}()

	s.broadcast(ctx, &message.Message{
		Kind: message.KindSystem,
		Text: fmt.Sprintf("Scene begins with %s.", strings.Join(names, ", ")),
		At:   time.Now(),
		Meta: map[string]string{"opening": opening},
	})
	s.broadcast(ctx, &message.Message{
		Kind:   message.KindSay,
		From:   names[0],
		FromID: s.opts.Cast[0].ID(),
		Text:   opening,
		At:     time.Now(),
	})

	input := opening
	n := len(s.opts.Cast)
	for i := 0; i < s.opts.MaxTurns; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && s.opts.Gap > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.Gap):
			}
		}

		responder := (i + 1) % n
		reply, err := s.take(ctx, input, s.opts.Cast[i%n], s.opts.Cast[responder])
		if err != nil {
			slog.ErrorContext(ctx, "scene turn failed", "turn", i+1, "error", err)
			s.broadcast(ctx, &message.Message{
				Kind: message.KindError,
				Text: fmt.Sprintf("turn %d failed: %v", i+1, err),
				At:   time.Now(),
			})
			return err
		}

		s.broadcast(ctx, &message.Message{
			Kind:   message.KindSay,
			From:   names[responder],
			FromID: s.opts.Cast[responder].ID(),
			Text:   reply.Reply.Answer,
			At:     time.Now(),
			Turn:   reply.Turn,
		})
		for _, r := range reply.Reasoning {
			from := r.BotName
			if from == "" {
				from = r.BotID
			}
			s.broadcast(ctx, &message.Message{
				Kind:   message.KindReasoning,
				From:   from,
				FromID: r.BotID,
				Text:   r.Text,
				At:     time.Now(),
				Turn:   reply.Turn,
			})
		}
		input = reply.Reply.Answer
	}
	return nil
}

func (s *Scene) take(ctx context.Context, input string, prompter, responder character.EntityLike) (*agent.Result, error) {
	if err := s.opts.Floor.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.opts.Floor.Release()
	return s.opts.Turner.HandleInput(ctx, input, prompter, responder)
}

func (s *Scene) castNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.opts.Cast))
	for _, c := range s.opts.Cast {
		name, err := c.Name(ctx)
		if err != nil {
			return nil, fmt.Errorf("scene.Scene.Run: %w", err)
		}
		if name == "" {
			name = c.ID()
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *Scene) broadcast(ctx context.Context, m *message.Message) {
	if err := s.opts.Bus.Broadcast(m); err != nil {
		slog.WarnContext(ctx, "scene broadcast failed", "kind", m.Kind, "error", err)
	}
}
