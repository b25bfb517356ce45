package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteCatalog {
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.RunMigrations())
	return c
}

func TestSQLiteCatalog_SeededProducts(t *testing.T) {
	c := setupTestDB(t)

	stock, err := c.StockReal(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100, stock)

	stock, err = c.StockReal(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 200, stock)
}

func TestSQLiteCatalog_NotFound(t *testing.T) {
	c := setupTestDB(t)

	_, err := c.StockReal(context.Background(), 999)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestSQLiteCatalog_SetStock(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, c.SetStock(ctx, 1, 7))
	require.NoError(t, c.SetStock(ctx, 42, 3))

	stock, err := c.StockReal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, stock)

	stock, err = c.StockReal(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)
}

func TestSQLiteCatalog_MigrationsAreIdempotent(t *testing.T) {
	c := setupTestDB(t)
	assert.NoError(t, c.RunMigrations())
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(map[int64]int{1: 10})

	stock, err := c.StockReal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, stock)

	_, err = c.StockReal(ctx, 2)
	assert.ErrorIs(t, err, ErrProductNotFound)

	require.NoError(t, c.SetStock(ctx, 2, 4))
	stock, err = c.StockReal(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, stock)
}
