package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/locus/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var resultColumns = []string{
	"id", "project_id", "action_text", "action_type", "element_descriptor", "selector", "locator_kind",
	"url_pattern", "confidence", "is_in_modal", "container_role", "success_count", "last_used_at", "created_at",
}

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := NewPostgres(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgres(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestConnect_EmptyURL(t *testing.T) {
	_, _, err := Connect(context.Background(), "", zap.NewNop())
	assert.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t)
	mockPool.ExpectExec(flexibleSQLMatcher(sqlSchema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresUpsert(t *testing.T) {
	ctx := context.Background()
	used := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	created := used.Add(-48 * time.Hour)

	t.Run("returns the reinforced row", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		p := pattern("click submit", "#submit", 40, used)
		p.ID = "pat-1"

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlUpsert)).
			WithArgs("pat-1", "proj", "click submit", "click", pgxmock.AnyArg(), "#submit", "css",
				"example.com", 40, false, "", used).
			WillReturnRows(pgxmock.NewRows(resultColumns).AddRow(
				"pat-1", "proj", "click submit", "click", []byte(`{"tag":"button","text":"Submit"}`), "#submit", "css",
				"example.com", 75, false, "", 4, used, created,
			))

		got, err := s.Upsert(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 4, got.SuccessCount)
		assert.Equal(t, 75, got.Confidence)
		assert.Equal(t, schemas.ActionClick, got.ActionType)
		assert.Equal(t, schemas.LocatorCSS, got.LocatorKind)
		assert.Equal(t, "Submit", got.ElementDescriptor.Text)
		assert.True(t, got.CreatedAt.Equal(created))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("generates an id and wraps driver errors", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		dbErr := errors.New("connection reset")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlUpsert)).WillReturnError(dbErr)

		_, err := s.Upsert(ctx, pattern("click submit", "#submit", 40, used))
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresQueries(t *testing.T) {
	ctx := context.Background()
	used := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	row := func(rows *pgxmock.Rows, id, selector string, success int) *pgxmock.Rows {
		return rows.AddRow(id, "proj", "click login", "click", []byte(`{}`), selector, "id",
			"example.com", 80, false, "dialog", success, used, used)
	}

	t.Run("exact", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(`WHERE project_id = \$1 AND action_text = \$2 AND url_pattern = \$3 AND is_in_modal = \$4\s+ORDER BY success_count DESC`).
			WithArgs("proj", "click login", "example.com", false).
			WillReturnRows(row(row(pgxmock.NewRows(resultColumns), "a", "#a", 3), "b", "#b", 1))

		got, err := s.FindExact(ctx, "proj", "click login", "example.com", false)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "#a", got[0].Selector)
		assert.Equal(t, "dialog", got[0].ContainerRole)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("partial", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(`strpos\(action_text, \$3\) > 0`).
			WithArgs("proj", true, "click").
			WillReturnRows(pgxmock.NewRows(resultColumns))

		got, err := s.FindPartial(ctx, "proj", "click", true)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("scope", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(`WHERE project_id = \$1 AND is_in_modal = \$2\s+ORDER BY`).
			WithArgs("proj", false).
			WillReturnRows(row(pgxmock.NewRows(resultColumns), "a", "#a", 1))

		got, err := s.ListScope(ctx, "proj", false)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("top", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(`LIMIT \$2`).
			WithArgs("proj", 5).
			WillReturnRows(row(pgxmock.NewRows(resultColumns), "a", "#a", 9))

		got, err := s.Top(ctx, "proj", 5)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 9, got[0].SuccessCount)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("bad descriptor json is a scan error", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(`LIMIT \$2`).
			WithArgs("proj", 1).
			WillReturnRows(pgxmock.NewRows(resultColumns).AddRow("a", "proj", "x", "click", []byte(`{`), "#a", "id",
				"example.com", 80, false, "", 1, used, used))

		_, err := s.Top(ctx, "proj", 1)
		assert.Error(t, err)
	})
}

func TestPostgresCleanup(t *testing.T) {
	s, mockPool := newMockStore(t)
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mockPool.ExpectExec(`DELETE FROM memory_patterns WHERE project_id = \$1 AND success_count < \$2 AND last_used_at < \$3`).
		WithArgs("proj", 2, cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := s.Cleanup(context.Background(), "proj", 2, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresCleanup_ErrorIsLoggedByCaller(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	mockPool.ExpectPing()
	s, err := NewPostgres(context.Background(), mockPool, zap.New(core))
	require.NoError(t, err)

	mockPool.ExpectExec(`DELETE FROM memory_patterns`).WillReturnError(errors.New("locked"))
	_, err = s.Cleanup(context.Background(), "proj", 2, time.Now())
	assert.Error(t, err)
	assert.Zero(t, logs.FilterMessage("Cleaned up patterns").Len())
}
