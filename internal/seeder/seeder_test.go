package seeder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/database/dbtest"
	"github.com/Additional-Code/nightowl/internal/entity"
)

func TestCatalogSeedsOnce(t *testing.T) {
	ctx := context.Background()
	conns := dbtest.New(t)
	s := New(conns, zap.NewNop())

	first, err := s.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Products)
	assert.Equal(t, 2, first.Locations)
	assert.True(t, first.Promotion)
	assert.Equal(t, 2, first.Coupons)

	var promo entity.Promotion
	require.NoError(t, conns.Writer.NewSelect().Model(&promo).Limit(1).Scan(ctx))
	assert.Len(t, promo.ProductIDs, 2)
	assert.True(t, promo.Eligible(s.now()))

	second, err := s.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, second)

	count, err := conns.Writer.NewSelect().Model((*entity.Product)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
