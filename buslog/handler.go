// Package buslog は slog のレコードをシーンのバスに流します。
package buslog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sat8bit/tavern/bus"
	"github.com/sat8bit/tavern/message"
)

// BusHandler is a slog.Handler that writes log records to a bus.Bus as
// message.KindLog messages, so the console renderer can interleave them with
// the scene transcript.
type BusHandler struct {
	bus   bus.Bus
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewBusHandler creates a new BusHandler. Records below level are ignored;
// a nil level means slog.LevelInfo.
func NewBusHandler(b bus.Bus, level slog.Leveler) *BusHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &BusHandler{bus: b, level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *BusHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats the record as "[LEVEL] msg key=value ..." and broadcasts it.
func (h *BusHandler) Handle(ctx context.Context, r slog.Record) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", r.Level, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value.Resolve())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", h.qualify(a.Key), a.Value.Resolve())
		return true
	})

	return h.bus.Broadcast(&message.Message{
		Text: sb.String(),
		At:   r.Time,
		Kind: message.KindLog,
	})
}

// WithAttrs returns a new BusHandler whose attributes consist of
// the handler's attributes followed by attrs.
func (h *BusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &next
}

func (h *BusHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

// WithGroup returns a new BusHandler with the given group name.
func (h *BusHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

// Fanout は複数の slog.Handler に同じレコードを渡します。
// 標準エラーへのログを残したまま、バスにも流すために使います。
type Fanout []slog.Handler

func (f Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f Fanout) WithGroup(name string) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

var (
	_ slog.Handler = (*BusHandler)(nil)
	_ slog.Handler = Fanout(nil)
)
