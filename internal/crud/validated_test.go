package crud

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownkit/docstore/internal/backend/memory"
	"github.com/ownkit/docstore/internal/domain"
)

func newValidatedService(t *testing.T, rules Rules) (*ValidatedService, *memory.Store) {
	t.Helper()
	store := memory.NewStore("notes")
	svc := New(store, "note", Options{UniqueField: "title"}, zerolog.Nop())
	return NewValidated(svc, rules), store
}

func TestValidatedService_Create(t *testing.T) {
	ctx := context.Background()
	rules := Rules{
		"title": "required,min=1,max=50",
		"email": "omitempty,email",
	}

	t.Run("valid payload passes through", func(t *testing.T) {
		v, _ := newValidatedService(t, rules)
		rec, err := v.Create(ctx, "alice", domain.Record{"title": "Groceries"})
		require.NoError(t, err)
		assert.Equal(t, "Groceries", rec.String("title"))
	})

	t.Run("missing required field is rejected before any backend call", func(t *testing.T) {
		v, store := newValidatedService(t, rules)
		_, err := v.Create(ctx, "alice", domain.Record{"email": "a@b.com"})
		require.Error(t, err)

		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "title", verr.Field)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("tag failure names the failing rule", func(t *testing.T) {
		v, _ := newValidatedService(t, rules)
		_, err := v.Create(ctx, "alice", domain.Record{"title": "x", "email": "not-an-email"})
		require.Error(t, err)

		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "email", verr.Field)
		assert.Contains(t, verr.Message, "email")
	})

	t.Run("validation runs before uniqueness", func(t *testing.T) {
		v, _ := newValidatedService(t, rules)
		_, err := v.Create(ctx, "alice", domain.Record{"title": "Groceries"})
		require.NoError(t, err)

		// Both violations present; the shape error wins.
		_, err = v.Create(ctx, "alice", domain.Record{"title": "Groceries", "email": "bad"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestValidatedService_Update(t *testing.T) {
	ctx := context.Background()
	rules := Rules{"title": "required,min=1", "priority": "omitempty,min=1,max=5"}

	t.Run("partial patch skips absent required fields", func(t *testing.T) {
		v, _ := newValidatedService(t, rules)
		rec, err := v.Create(ctx, "alice", domain.Record{"title": "Groceries"})
		require.NoError(t, err)

		updated, err := v.Update(ctx, "alice", rec.ID(), domain.Record{"priority": 3})
		require.NoError(t, err)
		assert.Equal(t, "Groceries", updated.String("title"))
	})

	t.Run("present field is still validated", func(t *testing.T) {
		v, _ := newValidatedService(t, rules)
		rec, err := v.Create(ctx, "alice", domain.Record{"title": "Groceries"})
		require.NoError(t, err)

		_, err = v.Update(ctx, "alice", rec.ID(), domain.Record{"priority": 9})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestValidatedService_BulkCreate(t *testing.T) {
	ctx := context.Background()
	rules := Rules{"title": "required,min=1"}

	t.Run("malformed record aborts the batch with its index", func(t *testing.T) {
		v, store := newValidatedService(t, rules)

		_, err := v.BulkCreate(ctx, "alice", []domain.Record{
			{"title": "a"},
			{"body": "missing title"},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Contains(t, err.Error(), "record 1")
		assert.Equal(t, 0, store.Len())
	})

	t.Run("well-formed batch passes through", func(t *testing.T) {
		v, store := newValidatedService(t, rules)
		recs, err := v.BulkCreate(ctx, "alice", []domain.Record{{"title": "a"}, {"title": "b"}})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
		assert.Equal(t, 2, store.Len())
	})
}
