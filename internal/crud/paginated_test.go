package crud

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownkit/docstore/internal/backend/memory"
	"github.com/ownkit/docstore/internal/domain"
)

func newPaginatedService(t *testing.T, total int) *PaginatedService {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore("notes")
	svc := New(store, "note", Options{MaxLimit: 50}, zerolog.Nop())
	for i := 0; i < total; i++ {
		_, err := svc.Create(ctx, "alice", domain.Record{"n": i})
		require.NoError(t, err)
	}
	return NewPaginated(svc)
}

func TestPaginatedService_GetAll(t *testing.T) {
	ctx := context.Background()

	t.Run("middle page has both neighbors", func(t *testing.T) {
		p := newPaginatedService(t, 25)
		res, err := p.GetAll(ctx, "alice", nil, PageRequest{Page: 2, Limit: 10})
		require.NoError(t, err)

		assert.Len(t, res.Data, 10)
		assert.Equal(t, PageMeta{
			Page: 2, Limit: 10, Total: 25, TotalPages: 3,
			HasNext: true, HasPrev: true,
		}, res.Meta)
	})

	t.Run("first page has no previous", func(t *testing.T) {
		p := newPaginatedService(t, 25)
		res, err := p.GetAll(ctx, "alice", nil, PageRequest{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.True(t, res.Meta.HasNext)
		assert.False(t, res.Meta.HasPrev)
	})

	t.Run("last partial page has no next", func(t *testing.T) {
		p := newPaginatedService(t, 25)
		res, err := p.GetAll(ctx, "alice", nil, PageRequest{Page: 3, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, res.Data, 5)
		assert.False(t, res.Meta.HasNext)
		assert.True(t, res.Meta.HasPrev)
	})

	t.Run("exact multiple has no phantom page", func(t *testing.T) {
		p := newPaginatedService(t, 20)
		res, err := p.GetAll(ctx, "alice", nil, PageRequest{Page: 2, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Meta.TotalPages)
		assert.False(t, res.Meta.HasNext)
	})

	t.Run("empty result set has zero pages and no neighbors", func(t *testing.T) {
		p := newPaginatedService(t, 0)
		res, err := p.GetAll(ctx, "alice", nil, PageRequest{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, res.Data)
		assert.Equal(t, 0, res.Meta.TotalPages)
		assert.False(t, res.Meta.HasNext)
		assert.False(t, res.Meta.HasPrev)
	})
}
