package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weeargh/kiwi/internal/repository"
)

func TestAPIKeyRepository_Resolve(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewAPIKeyRepository(db)

	hash := HashToken("secret-token")
	require.NoError(t, repo.Create(ctx, &repository.APIKey{KeyHash: hash, TenantID: "tenant1", Description: "ci"}))

	tenantID, err := repo.ResolveTenant(ctx, "secret-token")
	require.NoError(t, err)
	require.Equal(t, "tenant1", tenantID)

	key, err := repo.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, "ci", key.Description)
	require.NotNil(t, key.LastUsed)

	_, err = repo.ResolveTenant(ctx, "wrong")
	require.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.Create(ctx, &repository.APIKey{KeyHash: hash, TenantID: "tenant2"})
	require.ErrorIs(t, err, repository.ErrDuplicate)
}
