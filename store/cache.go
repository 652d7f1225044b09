package store

import (
	"context"
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Cached は Get の結果を LRU に保持する Store のデコレータです。
// 書き込みは常に下位ストアへ通し、該当キーを無効化します。
// 同一プロセス内の書き込みしか観測しないため、複数プロセスで同じストアを共有する場合は使いません。
// 書き込みのたびにキーの世代を進め、読み込み中に世代が変わった Get は結果をキャッシュに入れません。
type Cached struct {
	inner Store
	docs  *lru.Cache[string, Document]

	mu   sync.Mutex
	gens [genStripes]uint64
}

const genStripes = 64

// NewCached は size 件まで保持する Cached を生成します。
func NewCached(inner Store, size int) (*Cached, error) {
	docs, err := lru.New[string, Document](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating document cache")
	}
	return &Cached{inner: inner, docs: docs}, nil
}

func cacheKey(collection, id string) string {
	return collection + "/" + id
}

func stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % genStripes)
}

// invalidate は下位ストアへの書き込み後に呼びます。
func (c *Cached) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[stripe(key)]++
	c.docs.Remove(key)
}

func (c *Cached) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	return c.inner.Insert(ctx, collection, doc)
}

func (c *Cached) InsertMany(ctx context.Context, collection string, docs []Document) ([]string, error) {
	return c.inner.InsertMany(ctx, collection, docs)
}

func (c *Cached) Get(ctx context.Context, collection, id string) (Document, error) {
	key := cacheKey(collection, id)
	if doc, ok := c.docs.Get(key); ok {
		return copyDocument(doc), nil
	}
	s := stripe(key)
	c.mu.Lock()
	gen := c.gens[s]
	c.mu.Unlock()

	doc, err := c.inner.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gens[s] == gen {
		c.docs.Add(key, doc)
	}
	c.mu.Unlock()
	return copyDocument(doc), nil
}

func (c *Cached) Set(ctx context.Context, collection, id, field string, value any) error {
	err := c.inner.Set(ctx, collection, id, field, value)
	c.invalidate(cacheKey(collection, id))
	return err
}

func (c *Cached) Push(ctx context.Context, collection, id, field string, value any) error {
	err := c.inner.Push(ctx, collection, id, field, value)
	c.invalidate(cacheKey(collection, id))
	return err
}

func (c *Cached) Scan(ctx context.Context, collection, field string) ([]Document, error) {
	return c.inner.Scan(ctx, collection, field)
}

func (c *Cached) Find(ctx context.Context, collection, field, value string) ([]Document, error) {
	return c.inner.Find(ctx, collection, field, value)
}

func (c *Cached) Close(ctx context.Context) error {
	c.docs.Purge()
	return c.inner.Close(ctx)
}

// copyDocument はトップレベルだけを複製します。呼び出し側がマップへ書き込んでもキャッシュは汚れません。
func copyDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

var _ Store = (*Cached)(nil)
