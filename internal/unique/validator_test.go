package unique

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownkit/docstore/internal/backend/memory"
	"github.com/ownkit/docstore/internal/domain"
)

func TestCheckDuplicateByField(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *memory.Store {
		t.Helper()
		store := memory.NewStore("notes")
		_, err := store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "alice"})
		require.NoError(t, err)
		return store
	}

	t.Run("finds a case-variant conflict", func(t *testing.T) {
		store := seed(t)
		conflict, err := CheckDuplicateByField(ctx, store, "title", "GROCERIES", Options{Owner: "alice"})
		require.NoError(t, err)
		require.NotNil(t, conflict)
		assert.Equal(t, "Groceries", conflict.String("title"))
	})

	t.Run("no conflict yields nil", func(t *testing.T) {
		store := seed(t)
		conflict, err := CheckDuplicateByField(ctx, store, "title", "Chores", Options{Owner: "alice"})
		require.NoError(t, err)
		assert.Nil(t, conflict)
	})

	t.Run("owner scoping hides other owners' records", func(t *testing.T) {
		store := seed(t)
		conflict, err := CheckDuplicateByField(ctx, store, "title", "Groceries", Options{Owner: "bob"})
		require.NoError(t, err)
		assert.Nil(t, conflict)
	})

	t.Run("exclude id skips the record being updated", func(t *testing.T) {
		store := memory.NewStore("notes")
		rec, err := store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		conflict, err := CheckDuplicateByField(ctx, store, "title", "groceries",
			Options{Owner: "alice", ExcludeID: rec.ID()})
		require.NoError(t, err)
		assert.Nil(t, conflict)
	})

	t.Run("unsafe field is rejected", func(t *testing.T) {
		store := seed(t)
		_, err := CheckDuplicateByField(ctx, store, "title; --", "x", Options{})
		assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	})
}

func TestValidateUniqueField(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict becomes a structured duplicate error", func(t *testing.T) {
		store := memory.NewStore("notes")
		_, err := store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		err = ValidateUniqueField(ctx, store, "title", "groceries", Options{Owner: "alice"}, "note")
		require.Error(t, err)

		var dup *domain.DuplicateError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, domain.DuplicateCode, dup.Code)
		assert.Equal(t, "note", dup.Resource)
		assert.Equal(t, "title", dup.Field)
		assert.Equal(t, "groceries", dup.Value)
	})

	t.Run("multi-field validation stops at the first conflict", func(t *testing.T) {
		store := memory.NewStore("notes")
		_, err := store.InsertOne(ctx, domain.Record{"title": "A", "slug": "a", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		err = ValidateUniqueFields(ctx, store, []FieldValue{
			{Field: "slug", Value: "A"},
			{Field: "title", Value: "a"},
		}, Options{Owner: "alice"}, "note")
		require.Error(t, err)

		var dup *domain.DuplicateError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "slug", dup.Field)
	})
}

func TestValidator(t *testing.T) {
	ctx := context.Background()

	t.Run("per-owner scope allows cross-owner reuse", func(t *testing.T) {
		store := memory.NewStore("notes")
		_, err := store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		v := NewValidator(store, "note", "title", ScopePerOwner)
		assert.Error(t, v.Validate(ctx, "groceries", "", "alice"))
		assert.NoError(t, v.Validate(ctx, "groceries", "", "bob"))
	})

	t.Run("global scope rejects across owners", func(t *testing.T) {
		store := memory.NewStore("projects")
		_, err := store.InsertOne(ctx, domain.Record{"name": "apollo", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		v := NewValidator(store, "project", "name", ScopeGlobal)
		assert.Error(t, v.Validate(ctx, "Apollo", "", "bob"))
	})

	t.Run("normalize converts native duplicate-key errors", func(t *testing.T) {
		v := NewValidator(memory.NewStore("notes"), "note", "title", ScopePerOwner)

		err := v.Normalize(&memory.DuplicateKeyError{Field: "title"}, "Groceries")
		var dup *domain.DuplicateError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "title", dup.Field)
		assert.Equal(t, "Groceries", dup.Value)
	})

	t.Run("normalize passes other errors through", func(t *testing.T) {
		v := NewValidator(memory.NewStore("notes"), "note", "title", ScopePerOwner)

		boom := errors.New("connection reset")
		assert.Equal(t, boom, v.Normalize(boom, "x"))
		assert.NoError(t, v.Normalize(nil, "x"))
	})
}

func TestIsDuplicateKeyError(t *testing.T) {
	t.Run("recognizes the postgres unique violation", func(t *testing.T) {
		assert.True(t, IsDuplicateKeyError(&pgconn.PgError{Code: "23505"}))
		assert.False(t, IsDuplicateKeyError(&pgconn.PgError{Code: "23503"}))
	})

	t.Run("recognizes self-identifying duplicate errors", func(t *testing.T) {
		assert.True(t, IsDuplicateKeyError(&memory.DuplicateKeyError{Field: "title"}))
	})

	t.Run("ignores nil and ordinary errors", func(t *testing.T) {
		assert.False(t, IsDuplicateKeyError(nil))
		assert.False(t, IsDuplicateKeyError(errors.New("boom")))
	})

	t.Run("unwraps wrapped driver errors", func(t *testing.T) {
		wrapped := fmt.Errorf("insert failed: %w", &pgconn.PgError{Code: "23505"})
		assert.True(t, IsDuplicateKeyError(wrapped))
	})
}

func TestBatchChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("reports taken values in their input form", func(t *testing.T) {
		store := memory.NewStore("notes")
		for _, title := range []string{"Groceries", "Chores"} {
			_, err := store.InsertOne(ctx, domain.Record{"title": title, domain.FieldOwner: "alice"})
			require.NoError(t, err)
		}

		existing, err := NewBatchChecker(store, "title").Existing(ctx,
			[]string{"GROCERIES", "Errands", "chores"}, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"GROCERIES", "chores"}, existing)
	})

	t.Run("owner scoping bounds the probe", func(t *testing.T) {
		store := memory.NewStore("notes")
		_, err := store.InsertOne(ctx, domain.Record{"title": "Groceries", domain.FieldOwner: "alice"})
		require.NoError(t, err)

		existing, err := NewBatchChecker(store, "title").Existing(ctx, []string{"groceries"}, "bob")
		require.NoError(t, err)
		assert.Empty(t, existing)
	})

	t.Run("empty input short-circuits", func(t *testing.T) {
		existing, err := NewBatchChecker(memory.NewStore("notes"), "title").Existing(ctx, nil, "alice")
		require.NoError(t, err)
		assert.Nil(t, existing)
	})
}
