package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/repository"
)

func TestTenantRepository_CreateGetList(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewTenantRepository(db)

	insertTenant(t, db, "b", "Pacific/Auckland")
	insertTenant(t, db, "a", "America/Los_Angeles")
	require.NoError(t, repo.Create(ctx, &tenant.Tenant{ID: "c", Name: "c", Timezone: "UTC", Status: tenant.StatusInactive}))

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "Pacific/Auckland", got.Timezone)
	require.False(t, got.CreatedAt.IsZero())

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "a", active[0].ID)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.Create(ctx, &tenant.Tenant{ID: "a", Name: "dup", Timezone: "UTC"})
	require.ErrorIs(t, err, repository.ErrDuplicate)
}
