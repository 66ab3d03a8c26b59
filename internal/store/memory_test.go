package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Add(ctx, "outlets", map[string]any{"UF_ADDRESS": "Ленина, 1", "UF_COMPANY_ID": int64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := m.Get(ctx, "outlets", id)
	require.NoError(t, err)
	assert.Equal(t, "Ленина, 1", rec.Fields["UF_ADDRESS"])

	// возвращается копия
	rec.Fields["UF_ADDRESS"] = "changed"
	again, _ := m.Get(ctx, "outlets", id)
	assert.Equal(t, "Ленина, 1", again.Fields["UF_ADDRESS"])

	require.NoError(t, m.Update(ctx, "outlets", id, map[string]any{"UF_ADDRESS": "Мира, 2"}))
	rec, _ = m.Get(ctx, "outlets", id)
	assert.Equal(t, "Мира, 2", rec.Fields["UF_ADDRESS"])
	assert.Equal(t, int64(7), rec.Fields["UF_COMPANY_ID"])

	require.NoError(t, m.Delete(ctx, "outlets", id))
	_, err = m.Get(ctx, "outlets", id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Update(ctx, "outlets", id, nil), ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "outlets", id), ErrNotFound)
}

func TestMemoryListFilterOrderPage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		company := int64(1 + i%2)
		_, err := m.Add(ctx, "contracts", map[string]any{
			"UF_COMPANY_ID": company,
			"UF_NAME":       string(rune('a' + i)),
			"UF_DATE_START": time.Date(2024, 1, 5-i, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	recs, total, err := m.List(ctx, "contracts", Query{Filter: map[string]any{"UF_COMPANY_ID": int64(1)}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	// по умолчанию ID по убыванию
	assert.Equal(t, []int64{5, 3, 1}, ids(recs))

	recs, total, err = m.List(ctx, "contracts", Query{Order: []Order{{Field: "UF_DATE_START"}}, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []int64{4, 3}, ids(recs))

	recs, _, err = m.List(ctx, "contracts", Query{Filter: map[string]any{IDField: int64(2)}})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(recs))

	recs, total, err = m.List(ctx, "contracts", Query{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, recs)
}

func TestMemoryTxRollbackKeepsSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Add(ctx, "outlets", map[string]any{"UF_ADDRESS": "x"})
	require.NoError(t, err)
	_, err = tx.Add(ctx, "outlets", map[string]any{"UF_ADDRESS": "y"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, total, err := m.List(ctx, "outlets", Query{})
	require.NoError(t, err)
	assert.Zero(t, total)

	id, err := m.Add(ctx, "outlets", map[string]any{"UF_ADDRESS": "z"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	_, err = tx.Add(ctx, "outlets", nil)
	assert.Error(t, err)
}

func TestMemoryTxCommitAndIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, _ := m.Add(ctx, "outlets", map[string]any{"UF_ADDRESS": "before"})

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Update(ctx, "outlets", id, map[string]any{"UF_ADDRESS": "after"}))

	var wg sync.WaitGroup
	var seen string
	wg.Add(1)
	go func() {
		defer wg.Done()
		// блокируется, пока транзакция не завершится
		rec, err := m.Get(ctx, "outlets", id)
		if err == nil {
			seen = rec.Fields["UF_ADDRESS"].(string)
		}
	}()

	require.NoError(t, tx.Commit())
	wg.Wait()
	assert.Equal(t, "after", seen)
	assert.Error(t, tx.Commit())
}

func ids(recs []Record) []int64 {
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
