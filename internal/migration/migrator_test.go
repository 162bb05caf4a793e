package migration

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	migrations "github.com/Additional-Code/nightowl/db/migrations"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/database/dbtest"
	"github.com/Additional-Code/nightowl/internal/entity"
)

func TestGooseDialect(t *testing.T) {
	for driver, want := range map[string]string{"pg": "postgres", "postgres": "postgres", "mysql": "mysql", "sqlite": "sqlite3"} {
		got, err := gooseDialect(driver)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := gooseDialect("oracle")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsPerDialect(t *testing.T) {
	for _, dir := range []string{"sql/postgres", "sql/mysql"} {
		files, err := fs.Glob(migrations.FS, dir+"/*.sql")
		require.NoError(t, err)
		assert.NotEmpty(t, files, dir)
	}
}

func TestSqliteUpAndDown(t *testing.T) {
	ctx := context.Background()
	conns := dbtest.New(t)
	cfg := config.Config{Database: config.Database{Driver: "sqlite"}}

	m, err := New(cfg, conns, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.Up(ctx))
	count, err := conns.Writer.NewSelect().Model((*entity.Product)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, m.Down(ctx, 1, false))
	_, err = conns.Writer.NewSelect().Model((*entity.Product)(nil)).Count(ctx)
	assert.Error(t, err)

	require.NoError(t, m.Up(ctx))
	var counter entity.SequenceCounter
	require.NoError(t, conns.Writer.NewSelect().Model(&counter).Where("name = ?", entity.OrderNumberSequence).Scan(ctx))
	assert.Zero(t, counter.Value)
}
