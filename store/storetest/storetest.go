// Package storetest は store.Store 実装が共通して満たすべき振る舞いのテストを提供します。
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sat8bit/tavern/store"
)

// Run は newStore が返すストアに対して共通テストを実行します。
// newStore はサブテストごとに空のストアを返す必要があります。
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, store.CollectionNPCs, store.Document{
			"name":  "Mabel",
			"level": 3,
			"tags":  []string{"innkeeper", "human"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		doc, err := s.Get(ctx, store.CollectionNPCs, id)
		require.NoError(t, err)
		require.Equal(t, id, doc.ID())
		require.Equal(t, "Mabel", doc["name"])
		require.Equal(t, float64(3), doc["level"])
		require.Equal(t, []any{"innkeeper", "human"}, doc["tags"])
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, store.CollectionNPCs, "nope")
		require.True(t, store.IsNotFound(err), "got %v", err)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, store.CollectionPlayers, store.Document{"name": "Elowen"})
		require.NoError(t, err)

		_, err = s.Get(ctx, store.CollectionNPCs, id)
		require.True(t, store.IsNotFound(err))
	})

	t.Run("set writes one field", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, store.CollectionNPCs, store.Document{"name": "Mabel", "role": "cook"})
		require.NoError(t, err)

		require.NoError(t, s.Set(ctx, store.CollectionNPCs, id, "role", "innkeeper"))
		require.NoError(t, s.Set(ctx, store.CollectionNPCs, id, "stats", map[string]int{"strength": 9}))

		doc, err := s.Get(ctx, store.CollectionNPCs, id)
		require.NoError(t, err)
		require.Equal(t, "Mabel", doc["name"])
		require.Equal(t, "innkeeper", doc["role"])
		require.Equal(t, map[string]any{"strength": float64(9)}, doc["stats"])
	})

	t.Run("set on missing document", func(t *testing.T) {
		s := newStore(t)
		err := s.Set(ctx, store.CollectionNPCs, "nope", "role", "x")
		require.True(t, store.IsNotFound(err), "got %v", err)
	})

	t.Run("set rejects unsafe field names", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, store.CollectionNPCs, store.Document{"name": "Mabel"})
		require.NoError(t, err)

		require.Error(t, s.Set(ctx, store.CollectionNPCs, id, "name') --", "x"))
		require.Error(t, s.Set(ctx, store.CollectionNPCs, id, store.IDField, "other"))
	})

	t.Run("push appends in order", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, store.CollectionPlayers, store.Document{"name": "Elowen"})
		require.NoError(t, err)

		require.NoError(t, s.Push(ctx, store.CollectionPlayers, id, "lore", "born in Silverwood"))
		require.NoError(t, s.Push(ctx, store.CollectionPlayers, id, "lore", "owes Mabel a favour"))

		doc, err := s.Get(ctx, store.CollectionPlayers, id)
		require.NoError(t, err)
		require.Equal(t, []any{"born in Silverwood", "owes Mabel a favour"}, doc["lore"])

		require.NoError(t, s.Set(ctx, store.CollectionPlayers, id, "lore", []string{}))
		require.NoError(t, s.Push(ctx, store.CollectionPlayers, id, "lore", "fresh start"))
		doc, err = s.Get(ctx, store.CollectionPlayers, id)
		require.NoError(t, err)
		require.Equal(t, []any{"fresh start"}, doc["lore"])
	})

	t.Run("push on missing document", func(t *testing.T) {
		s := newStore(t)
		err := s.Push(ctx, store.CollectionPlayers, "nope", "lore", "x")
		require.True(t, store.IsNotFound(err), "got %v", err)
	})

	t.Run("scan filters by field and keeps insertion order", func(t *testing.T) {
		s := newStore(t)
		first, err := s.Insert(ctx, store.CollectionBots, store.Document{"qa_system_prompt": "a"})
		require.NoError(t, err)
		_, err = s.Insert(ctx, store.CollectionBots, store.Document{"reasoning_system_prompt": "b"})
		require.NoError(t, err)
		third, err := s.Insert(ctx, store.CollectionBots, store.Document{"qa_system_prompt": "c"})
		require.NoError(t, err)

		docs, err := s.Scan(ctx, store.CollectionBots, "qa_system_prompt")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		require.Equal(t, first, docs[0].ID())
		require.Equal(t, third, docs[1].ID())

		docs, err = s.Scan(ctx, "Empty", "anything")
		require.NoError(t, err)
		require.Empty(t, docs)
	})

	t.Run("insert many and find", func(t *testing.T) {
		s := newStore(t)
		ids, err := s.InsertMany(ctx, store.CollectionSessions, []store.Document{
			{"session_id": "ab", "type": "human", "content": "hello"},
			{"session_id": "ab", "type": "ai", "content": "welcome"},
			{"session_id": "ba", "type": "human", "content": "other"},
		})
		require.NoError(t, err)
		require.Len(t, ids, 3)

		docs, err := s.Find(ctx, store.CollectionSessions, "session_id", "ab")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		require.Equal(t, "hello", docs[0]["content"])
		require.Equal(t, "welcome", docs[1]["content"])

		docs, err = s.Find(ctx, store.CollectionSessions, "session_id", "zz")
		require.NoError(t, err)
		require.Empty(t, docs)
	})
}
