package history

import (
	"sync"

	"github.com/sat8bit/tavern/store"
)

// Mode は履歴の保存先です。
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Streams は名前付きの履歴ストリームを払い出します。
// local モードではストリーム名ごとにプロセス内の Memory を 1 つだけ作り、使い回します。
type Streams struct {
	store store.Store

	mu    sync.Mutex
	local map[string]*Memory
}

func NewStreams(s store.Store) *Streams {
	return &Streams{store: s, local: make(map[string]*Memory)}
}

// For は mode と name に対応する Store を返します。
func (s *Streams) For(mode Mode, name string) Store {
	if mode == ModeLocal {
		s.mu.Lock()
		defer s.mu.Unlock()
		m, ok := s.local[name]
		if !ok {
			m = NewMemory()
			s.local[name] = m
		}
		return m
	}
	return NewCollection(s.store, name)
}
