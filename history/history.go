// Package history はセッションごとの会話履歴（追記専用のメッセージ列）を扱います。
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/sat8bit/tavern/store"
)

// Role はメッセージの発話者の役割です。
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Message は履歴の 1 件です。
type Message struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"type"`
	Content   string `json:"content"`
	Speaker   string `json:"speaker,omitempty"`
}

// Store は履歴ストリームです。順序は追記順で、既存のメッセージが書き換えられることはありません。
type Store interface {
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	Append(ctx context.Context, sessionID string, msgs ...Message) error
}

// Last は msgs の末尾 n 件を返します。n が件数以上なら全件です。
func Last(msgs []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// Memory はプロセス内のマップに履歴を持つ Store です（local モード）。
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]Message)}
}

func (m *Memory) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.sessions[sessionID]))
	copy(out, m.sessions[sessionID])
	return out, nil
}

func (m *Memory) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		msg.SessionID = sessionID
		m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	}
	return nil
}

// Collection はドキュメントストアの 1 コレクションに履歴を保存する Store です（remote モード）。
// 1 回の Append で渡されたメッセージはまとめて挿入されます。
type Collection struct {
	store store.Store
	name  string
}

func NewCollection(s store.Store, name string) *Collection {
	return &Collection{store: s, name: name}
}

// Name は保存先のコレクション名です。
func (c *Collection) Name() string { return c.name }

func (c *Collection) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	docs, err := c.store.Find(ctx, c.name, fieldSessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history.Collection.Messages: %w", err)
	}
	out := make([]Message, 0, len(docs))
	for _, doc := range docs {
		role, _ := doc[fieldRole].(string)
		content, _ := doc[fieldContent].(string)
		speaker, _ := doc[fieldSpeaker].(string)
		out = append(out, Message{
			SessionID: sessionID,
			Role:      Role(role),
			Content:   content,
			Speaker:   speaker,
		})
	}
	return out, nil
}

func (c *Collection) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]store.Document, 0, len(msgs))
	for _, msg := range msgs {
		doc := store.Document{
			fieldSessionID: sessionID,
			fieldRole:      string(msg.Role),
			fieldContent:   msg.Content,
		}
		if msg.Speaker != "" {
			doc[fieldSpeaker] = msg.Speaker
		}
		docs = append(docs, doc)
	}
	if _, err := c.store.InsertMany(ctx, c.name, docs); err != nil {
		return fmt.Errorf("history.Collection.Append: %w", err)
	}
	return nil
}

const (
	fieldSessionID = "session_id"
	fieldRole      = "type"
	fieldContent   = "content"
	fieldSpeaker   = "speaker"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Collection)(nil)
)
