//go:build integration

package pg

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"hlgate/internal/store"
)

// go test -tags=integration -timeout 180s ./internal/pg/...
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgc, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hlgate"),
		postgres.WithUsername("hlgate"),
		postgres.WithPassword("hlgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgc.Terminate(context.Background()) })

	url, err := pgc.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := Open(ctx, url, Pool{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	s := NewStore(db, testRegistry(t), "", loc, slog.New(slog.DiscardHandler))
	require.NoError(t, s.Migrate(ctx))
	// повторная миграция ничего не ломает
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStoreCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loc := s.loc

	start := time.Date(2025, 1, 15, 0, 0, 0, 0, loc)
	id, err := s.Add(ctx, "contracts", map[string]any{
		"UF_NAME":         "Договор 1",
		"UF_COMPANY_ID":   int64(2),
		"UF_CREDIT_LIMIT": int64(1000),
		"UF_DEBT":         int64(1500050),
		"UF_LIMIT":        "120",
		"UF_DATE_START":   start,
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, "6", id)
	require.NoError(t, err)
	assert.Equal(t, "Договор 1", rec.Fields["UF_NAME"])
	assert.Equal(t, int64(1500050), rec.Fields["UF_DEBT"])
	assert.Equal(t, "120", rec.Fields["UF_LIMIT"])
	assert.True(t, start.Equal(rec.Fields["UF_DATE_START"].(time.Time)))
	assert.Nil(t, rec.Fields["UF_FILE"])

	require.NoError(t, s.Update(ctx, "contracts", id, map[string]any{"UF_NAME": "Договор 1а", "UF_FILE": nil}))
	rec, err = s.Get(ctx, "contracts", id)
	require.NoError(t, err)
	assert.Equal(t, "Договор 1а", rec.Fields["UF_NAME"])

	assert.ErrorIs(t, s.Update(ctx, "contracts", id+100, map[string]any{"UF_NAME": "x"}), store.ErrNotFound)
	_, err = s.Get(ctx, "contracts", id+100)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "contracts", id))
	assert.ErrorIs(t, s.Delete(ctx, "contracts", id), store.ErrNotFound)
}

func TestStoreListFilterOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, co := range []int64{1, 2, 2, 2} {
		_, err := s.Add(ctx, "contracts", map[string]any{
			"UF_NAME":         []string{"a", "b", "c", "d"}[i],
			"UF_COMPANY_ID":   co,
			"UF_CREDIT_LIMIT": int64(i),
		})
		require.NoError(t, err)
	}

	recs, total, err := s.List(ctx, "contracts", store.Query{
		Filter: map[string]any{"UF_COMPANY_ID": int64(2)},
		Order:  []store.Order{{Field: "UF_NAME"}},
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].Fields["UF_NAME"])
	assert.Equal(t, "d", recs[1].Fields["UF_NAME"])

	// по умолчанию: новые сверху
	recs, _, err = s.List(ctx, "contracts", store.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "d", recs[0].Fields["UF_NAME"])

	recs, total, err = s.List(ctx, "contracts", store.Query{Filter: map[string]any{"UF_FILE": nil}})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, recs, 4)

	_, _, err = s.List(ctx, "contracts", store.Query{Order: []store.Order{{Field: "NOPE"}}})
	assert.Error(t, err)
}

func TestStoreRejectsConstraintViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "contracts", map[string]any{"UF_NAME": "x", "UF_CREDIT_LIMIT": int64(-5)})
	var rej *store.RejectError
	require.ErrorAs(t, err, &rej)
	assert.NotEmpty(t, rej.Messages)

	// block_ref на несуществующую запись
	_, err = s.Add(ctx, "order", map[string]any{"UF_CONTRACT_ID": int64(999)})
	require.ErrorAs(t, err, &rej)
}

func TestStoreTxSavepoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	first, err := tx.Add(ctx, "contracts", map[string]any{"UF_NAME": "ok"})
	require.NoError(t, err)

	// отказ одной строки не обрывает транзакцию
	_, err = tx.Add(ctx, "contracts", map[string]any{"UF_NAME": "bad", "UF_CREDIT_LIMIT": int64(-1)})
	var rej *store.RejectError
	require.ErrorAs(t, err, &rej)

	_, err = tx.Add(ctx, "order", map[string]any{"UF_CONTRACT_ID": first})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	_, total, err := s.List(ctx, "contracts", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Add(ctx, "contracts", map[string]any{"UF_NAME": "gone"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, total, err = s.List(ctx, "contracts", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
