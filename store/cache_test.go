package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, collection, id string) (Document, error) {
	c.gets++
	return c.Store.Get(ctx, collection, id)
}

func TestCachedServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemory()}
	cached, err := NewCached(inner, 4)
	require.NoError(t, err)

	id, err := cached.Insert(ctx, CollectionNPCs, Document{"name": "Mabel"})
	require.NoError(t, err)

	for range 3 {
		doc, err := cached.Get(ctx, CollectionNPCs, id)
		require.NoError(t, err)
		require.Equal(t, "Mabel", doc["name"])
	}
	require.Equal(t, 1, inner.gets)
}

func TestCachedInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemory()}
	cached, err := NewCached(inner, 4)
	require.NoError(t, err)

	id, err := cached.Insert(ctx, CollectionNPCs, Document{"name": "Mabel"})
	require.NoError(t, err)
	_, err = cached.Get(ctx, CollectionNPCs, id)
	require.NoError(t, err)

	require.NoError(t, cached.Set(ctx, CollectionNPCs, id, "name", "Mabel Thorne"))
	doc, err := cached.Get(ctx, CollectionNPCs, id)
	require.NoError(t, err)
	require.Equal(t, "Mabel Thorne", doc["name"])

	require.NoError(t, cached.Push(ctx, CollectionNPCs, id, "lore", "runs the Gilded Flagon"))
	doc, err = cached.Get(ctx, CollectionNPCs, id)
	require.NoError(t, err)
	require.Equal(t, []any{"runs the Gilded Flagon"}, doc["lore"])
	require.Equal(t, 3, inner.gets)
}

// pausingStore は最初の Get を下位ストアから読んだ直後で止めます。
type pausingStore struct {
	Store
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) Get(ctx context.Context, collection, id string) (Document, error) {
	doc, err := p.Store.Get(ctx, collection, id)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return doc, err
}

func TestCachedSkipsFillRacingWithWrite(t *testing.T) {
	ctx := context.Background()
	inner := &pausingStore{
		Store:   NewMemory(),
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	cached, err := NewCached(inner, 4)
	require.NoError(t, err)

	id, err := cached.Insert(ctx, CollectionNPCs, Document{"name": "Mabel"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := cached.Get(ctx, CollectionNPCs, id)
		done <- err
	}()

	<-inner.read
	require.NoError(t, cached.Set(ctx, CollectionNPCs, id, "name", "Mabel the Bold"))
	close(inner.release)
	require.NoError(t, <-done)

	doc, err := cached.Get(ctx, CollectionNPCs, id)
	require.NoError(t, err)
	require.Equal(t, "Mabel the Bold", doc["name"])
}

func TestCachedReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cached, err := NewCached(NewMemory(), 4)
	require.NoError(t, err)

	id, err := cached.Insert(ctx, CollectionNPCs, Document{"name": "Mabel"})
	require.NoError(t, err)

	doc, err := cached.Get(ctx, CollectionNPCs, id)
	require.NoError(t, err)
	doc["name"] = "tampered"

	doc, err = cached.Get(ctx, CollectionNPCs, id)
	require.NoError(t, err)
	require.Equal(t, "Mabel", doc["name"])
}

func TestNewCachedRejectsNonPositiveSize(t *testing.T) {
	_, err := NewCached(NewMemory(), 0)
	require.Error(t, err)
}

func TestValidateField(t *testing.T) {
	require.NoError(t, ValidateField("player_class"))
	require.Error(t, ValidateField(""))
	require.Error(t, ValidateField("stats.strength"))
	require.Error(t, ValidateField("1st"))
	require.Error(t, ValidateField(IDField))
}
