package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sat8bit/tavern/apperr"
)

// Policy は同じセッションに同時にターンが来たときの振る舞いです。
type Policy string

const (
	// PolicyQueue は先行のターンが終わるまで待ちます。
	PolicyQueue Policy = "queue"
	// PolicyFail は待たずに apperr.ErrSessionBusy を返します。
	PolicyFail Policy = "fail"
	// PolicyOff は排他制御をしません。
	PolicyOff Policy = "off"
)

// ParsePolicy は設定値を Policy に変換します。空文字は PolicyQueue。
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case "", PolicyQueue:
		return PolicyQueue, nil
	case PolicyFail:
		return PolicyFail, nil
	case PolicyOff:
		return PolicyOff, nil
	}
	return "", fmt.Errorf("unknown session lock policy %q", s)
}

// SessionLocks はセッション ID ごとに MutexManager を持ち、
// 1 つのセッションで同時に進むターンを 1 つに制限します。
// 誰も使っていないセッションのエントリは解放時に削除されます。
type SessionLocks struct {
	policy Policy

	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	turn *MutexManager
	refs int
}

func NewSessionLocks(policy Policy) *SessionLocks {
	return &SessionLocks{
		policy:  policy,
		entries: make(map[string]*lockEntry),
	}
}

// Acquire は sessionID のターンを取得し、解放用の関数を返します。
// 解放関数は必ず 1 回呼び出してください。
func (l *SessionLocks) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if l.policy == PolicyOff {
		return func() {}, nil
	}

	e := l.retain(sessionID)

	if l.policy == PolicyFail {
		if !e.turn.TryAcquire() {
			l.drop(sessionID)
			return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrSessionBusy)
		}
	} else if err := e.turn.Acquire(ctx); err != nil {
		l.drop(sessionID)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.turn.Release()
			l.drop(sessionID)
		})
	}, nil
}

func (l *SessionLocks) retain(sessionID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[sessionID]
	if !ok {
		e = &lockEntry{turn: NewMutexManager()}
		l.entries[sessionID] = e
	}
	e.refs++
	return e
}

func (l *SessionLocks) drop(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[sessionID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.entries, sessionID)
	}
}

// Len は現在保持しているセッション数を返します。
func (l *SessionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
