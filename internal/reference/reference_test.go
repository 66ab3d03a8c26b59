package reference

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookup(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(Directory{Name: "Company", Items: []Item{
		{ID: 1, Name: "ООО Ромашка"},
		{ID: 2, Name: "Закрыта", ValidTo: "2020-12-31"},
	}})
	c.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	name, ok, err := c.Lookup(ctx, "company", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ООО Ромашка", name)

	_, ok, err = c.Lookup(ctx, "company", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Lookup(ctx, "company", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.Lookup(ctx, "department", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestLoadCatalogFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "employee.yaml"), []byte("items:\n  - {id: 10, name: Иванов}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: company\nitems:\n  - {id: 5, name: Альфа}\n"), 0o644))

	c, err := LoadCatalog(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"company", "employee"}, c.Kinds())

	name, ok, err := c.Lookup(context.Background(), KindEmployee, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Иванов", name)
}

func TestLoadShippedReferences(t *testing.T) {
	c, err := LoadCatalog(filepath.Join("..", "..", "catalog", "references.yaml"))
	require.NoError(t, err)
	assert.Contains(t, c.Kinds(), "company")
	assert.Contains(t, c.Kinds(), KindEmployee)
}

func TestRedisAndChain(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	rr := NewRedis(client, "", "company")
	require.NoError(t, rr.Put(ctx, "company", 42, "ООО Север"))

	name, ok, err := rr.Lookup(ctx, "company", 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ООО Север", name)

	_, ok, err = rr.Lookup(ctx, "company", 43)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = rr.Lookup(ctx, "employee", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)

	chain := Chain{rr, NewCatalog(Directory{Name: "employee", Items: []Item{{ID: 1, Name: "Петров"}}})}
	name, ok, err = chain.Lookup(ctx, "employee", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Петров", name)

	_, _, err = chain.Lookup(ctx, "department", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)

	mr.Close()
	_, _, err = chain.Lookup(ctx, "company", 42)
	assert.Error(t, err)
}
