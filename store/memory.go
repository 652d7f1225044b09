package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Memory はプロセス内で完結する Store 実装です。
// ドキュメントは JSON として保持するので、読み出し時の型は SQL バックエンドと揃います。
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string
	docs  map[string][]byte
}

// NewMemory は空の Memory ストアを生成します。
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) collection(name string) *memoryCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string][]byte)}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	ids, err := m.InsertMany(ctx, collection, []Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (m *Memory) InsertMany(ctx context.Context, collection string, docs []Document) ([]string, error) {
	encoded := make([][]byte, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = NewID()
		raw, err := EncodeDocument(doc, ids[i])
		if err != nil {
			return nil, errors.Wrap(err, collection)
		}
		encoded[i] = raw
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	for i, id := range ids {
		c.docs[id] = encoded[i]
		c.order = append(c.order, id)
	}
	return ids, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", collection, id)
	}
	raw, ok := c.docs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", collection, id)
	}
	return DecodeDocument(raw)
}

func (m *Memory) Set(ctx context.Context, collection, id, field string, value any) error {
	if err := ValidateField(field); err != nil {
		return err
	}
	return m.update(collection, id, func(doc Document) error {
		doc[field] = value
		return nil
	})
}

func (m *Memory) Push(ctx context.Context, collection, id, field string, value any) error {
	if err := ValidateField(field); err != nil {
		return err
	}
	return m.update(collection, id, func(doc Document) error {
		current, exists := doc[field]
		if !exists || current == nil {
			doc[field] = []any{value}
			return nil
		}
		list, ok := current.([]any)
		if !ok {
			return errors.Errorf("field %q is not an array", field)
		}
		doc[field] = append(list, value)
		return nil
	})
}

// update は書き込みロックの中で読み出し・変更・再エンコードを行います。
// 他のフィールドは元の値のまま保たれます。
func (m *Memory) update(collection, id string, mutate func(Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s/%s", collection, id)
	}
	raw, ok := c.docs[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s/%s", collection, id)
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return err
	}
	if err := mutate(doc); err != nil {
		return err
	}
	updated, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encoding document %s/%s", collection, id)
	}
	c.docs[id] = updated
	return nil
}

func (m *Memory) Scan(ctx context.Context, collection, field string) ([]Document, error) {
	return m.filter(collection, func(doc Document) bool {
		v, ok := doc[field]
		return ok && v != nil
	})
}

func (m *Memory) Find(ctx context.Context, collection, field, value string) ([]Document, error) {
	return m.filter(collection, func(doc Document) bool {
		v, ok := doc[field].(string)
		return ok && v == value
	})
}

func (m *Memory) filter(collection string, match func(Document) bool) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return []Document{}, nil
	}
	out := make([]Document, 0)
	for _, id := range c.order {
		doc, err := DecodeDocument(c.docs[id])
		if err != nil {
			return nil, err
		}
		if match(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}

var _ Store = (*Memory)(nil)
