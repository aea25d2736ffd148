package safety

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownkit/docstore/internal/domain"
)

func TestAssertSafeIdentifier(t *testing.T) {
	t.Run("accepts plain identifiers", func(t *testing.T) {
		for _, name := range []string{"title", "created_at", "_private", "Field9", "a"} {
			got, err := AssertSafeIdentifier(name)
			require.NoError(t, err, name)
			assert.Equal(t, name, got)
		}
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := AssertSafeIdentifier("")
		assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	})

	t.Run("rejects injection attempts", func(t *testing.T) {
		for _, name := range []string{
			"title; DROP TABLE notes",
			"a b",
			"doc->>'title'",
			`title"`,
			"title'",
			"9lives",
			"tab\tname",
			"semi;",
		} {
			_, err := AssertSafeIdentifier(name)
			assert.Error(t, err, name)

			var identErr *domain.InvalidIdentifierError
			require.True(t, errors.As(err, &identErr), name)
			assert.Equal(t, name, identErr.Name)
		}
	})

	t.Run("rejects names over the length bound", func(t *testing.T) {
		long := strings.Repeat("a", MaxIdentifierLength+1)
		_, err := AssertSafeIdentifier(long)
		assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)

		ok := strings.Repeat("a", MaxIdentifierLength)
		_, err = AssertSafeIdentifier(ok)
		assert.NoError(t, err)
	})
}

func TestAssertAllowedColumn(t *testing.T) {
	allowed := []string{"title", "status"}

	t.Run("accepts whitelisted column", func(t *testing.T) {
		got, err := AssertAllowedColumn("title", allowed)
		require.NoError(t, err)
		assert.Equal(t, "title", got)
	})

	t.Run("rejects safe but unlisted column", func(t *testing.T) {
		_, err := AssertAllowedColumn("owner_override", allowed)
		assert.ErrorIs(t, err, domain.ErrColumnNotAllowed)
	})

	t.Run("unsafe name fails the identifier check first", func(t *testing.T) {
		_, err := AssertAllowedColumn("title; --", allowed)
		assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	})

	t.Run("empty whitelist admits nothing", func(t *testing.T) {
		_, err := AssertAllowedColumn("title", nil)
		assert.ErrorIs(t, err, domain.ErrColumnNotAllowed)
	})
}

func TestEscapeLikePattern(t *testing.T) {
	t.Run("escapes pattern metacharacters", func(t *testing.T) {
		assert.Equal(t, `100\%`, EscapeLikePattern("100%"))
		assert.Equal(t, `under\_score`, EscapeLikePattern("under_score"))
		assert.Equal(t, `back\\slash`, EscapeLikePattern(`back\slash`))
	})

	t.Run("leaves plain values alone", func(t *testing.T) {
		assert.Equal(t, "plain title", EscapeLikePattern("plain title"))
	})
}

func TestEscapeRegex(t *testing.T) {
	t.Run("neutralizes regex metacharacters", func(t *testing.T) {
		assert.Equal(t, `a\.b\*`, EscapeRegex("a.b*"))
		assert.Equal(t, `\(group\)`, EscapeRegex("(group)"))
	})
}

func TestCaseFolding(t *testing.T) {
	t.Run("FoldCase collapses case variants", func(t *testing.T) {
		assert.Equal(t, FoldCase("My Title"), FoldCase("MY TITLE"))
	})

	t.Run("EqualFold matches case-insensitively", func(t *testing.T) {
		assert.True(t, EqualFold("Groceries", "GROCERIES"))
		assert.False(t, EqualFold("Groceries", "Chores"))
	})
}
