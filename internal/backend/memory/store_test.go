package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownkit/docstore/internal/backend"
	"github.com/ownkit/docstore/internal/domain"
)

func TestStore_InsertAndFind(t *testing.T) {
	ctx := context.Background()

	t.Run("insert assigns id and timestamps", func(t *testing.T) {
		store := NewStore("notes")

		rec, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID())
		assert.Equal(t, "alice", rec.Owner())
		assert.False(t, rec.CreatedAt().IsZero())
	})

	t.Run("find by id and owner", func(t *testing.T) {
		store := NewStore("notes")
		rec, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		found, err := store.FindOne(ctx, backend.Filter{ID: rec.ID(), Owner: "alice"})
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "First", found.String("title"))
	})

	t.Run("wrong owner finds nothing", func(t *testing.T) {
		store := NewStore("notes")
		rec, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		found, err := store.FindOne(ctx, backend.Filter{ID: rec.ID(), Owner: "mallory"})
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("unsafe field in filter errors", func(t *testing.T) {
		store := NewStore("notes")
		_, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		_, err = store.FindOne(ctx, backend.Filter{}.Eq("title; DROP", "x"))
		assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	})
}

func TestStore_FindMany(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *Store {
		t.Helper()
		store := NewStore("notes")
		for _, title := range []string{"a", "b", "c", "d", "e"} {
			_, err := store.InsertOne(ctx, domain.Record{"title": title, domain.FieldOwner: "alice"})
			require.NoError(t, err)
		}
		_, err := store.InsertOne(ctx, domain.Record{"title": "z", domain.FieldOwner: "bob"})
		require.NoError(t, err)
		return store
	}

	t.Run("owner filter partitions results", func(t *testing.T) {
		store := seed(t)
		recs, err := store.FindMany(ctx, backend.Filter{Owner: "alice"}, backend.FindOptions{})
		require.NoError(t, err)
		assert.Len(t, recs, 5)
	})

	t.Run("pagination bounds the page", func(t *testing.T) {
		store := seed(t)
		recs, err := store.FindMany(ctx, backend.Filter{Owner: "alice"}, backend.FindOptions{
			Sort: []backend.Sort{{Field: "title"}},
			Page: &backend.Page{Limit: 2, Offset: 2},
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "c", recs[0].String("title"))
		assert.Equal(t, "d", recs[1].String("title"))
	})

	t.Run("offset past the end yields empty page", func(t *testing.T) {
		store := seed(t)
		recs, err := store.FindMany(ctx, backend.Filter{Owner: "alice"}, backend.FindOptions{
			Page: &backend.Page{Limit: 10, Offset: 50},
		})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("fold membership matches case variants", func(t *testing.T) {
		store := seed(t)
		recs, err := store.FindMany(ctx,
			backend.Filter{Owner: "alice"}.InFold("title", []interface{}{"A", "C"}),
			backend.FindOptions{})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})
}

func TestStore_UniqueIndexes(t *testing.T) {
	ctx := context.Background()

	t.Run("per-owner index rejects case-variant duplicate", func(t *testing.T) {
		store := NewStore("notes", WithUniqueIndex("title", true))
		_, err := store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		_, err = store.InsertOne(ctx, domain.Record{"title": "GROCERIES", domain.FieldOwner: "alice"})
		require.Error(t, err)

		var dk *DuplicateKeyError
		require.True(t, errors.As(err, &dk))
		assert.Equal(t, "title", dk.Field)
		assert.True(t, dk.IsDuplicateKey())
	})

	t.Run("per-owner index allows same title for another owner", func(t *testing.T) {
		store := NewStore("notes", WithUniqueIndex("title", true))
		_, err := store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		_, err = store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "bob"})
		assert.NoError(t, err)
	})

	t.Run("global index rejects across owners", func(t *testing.T) {
		store := NewStore("projects", WithUniqueIndex("name", false))
		_, err := store.InsertOne(ctx, domain.Record{"name": "apollo", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		_, err = store.InsertOne(ctx, domain.Record{"name": "Apollo", domain.FieldOwner: "bob"})
		assert.Error(t, err)
	})

	t.Run("update onto a taken value is rejected", func(t *testing.T) {
		store := NewStore("notes", WithUniqueIndex("title", true))
		_, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)
		second, err := store.InsertOne(ctx, domain.Record{"title": "Second", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		_, err = store.UpdateOne(ctx, backend.Filter{ID: second.ID()}, domain.Record{"title": "first"})
		assert.Error(t, err)
	})

	t.Run("update keeping its own value passes", func(t *testing.T) {
		store := NewStore("notes", WithUniqueIndex("title", true))
		rec, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		updated, err := store.UpdateOne(ctx, backend.Filter{ID: rec.ID()}, domain.Record{"title": "first", "body": "x"})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, "first", updated.String("title"))
	})
}

func TestStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("update merges patch and bumps updated_at", func(t *testing.T) {
		store := NewStore("notes")
		rec, err := store.InsertOne(ctx, domain.Record{"title": "First", "status": "open", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		updated, err := store.UpdateOne(ctx, backend.Filter{ID: rec.ID(), Owner: "alice"}, domain.Record{"status": "done"})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, "done", updated.String("status"))
		assert.Equal(t, "First", updated.String("title"))
	})

	t.Run("patch cannot reassign ownership", func(t *testing.T) {
		store := NewStore("notes")
		rec, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		updated, err := store.UpdateOne(ctx, backend.Filter{ID: rec.ID()}, domain.Record{domain.FieldOwner: "mallory", "title": "stolen"})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, "alice", updated.Owner())
		assert.Equal(t, "stolen", updated.String("title"))
	})

	t.Run("update with no match returns nil without error", func(t *testing.T) {
		store := NewStore("notes")
		updated, err := store.UpdateOne(ctx, backend.Filter{ID: "missing"}, domain.Record{"x": 1})
		require.NoError(t, err)
		assert.Nil(t, updated)
	})

	t.Run("delete reports whether a record was removed", func(t *testing.T) {
		store := NewStore("notes")
		rec, err := store.InsertOne(ctx, domain.Record{"title": "First", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		removed, err := store.DeleteOne(ctx, backend.Filter{ID: rec.ID(), Owner: "alice"})
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, 0, store.Len())

		removed, err = store.DeleteOne(ctx, backend.Filter{ID: rec.ID(), Owner: "alice"})
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestStore_CountAndExists(t *testing.T) {
	ctx := context.Background()
	store := NewStore("notes")

	for i := 0; i < 3; i++ {
		_, err := store.InsertOne(ctx, domain.Record{"status": "open", domain.FieldOwner: "alice"})
		require.NoError(t, err)
	}

	total, err := store.Count(ctx, backend.Filter{Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	exists, err := store.Exists(ctx, backend.Filter{Owner: "alice"}.Eq("status", "open"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, backend.Filter{Owner: "bob"})
	require.NoError(t, err)
	assert.False(t, exists)
}
