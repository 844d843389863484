package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
	"github.com/weeargh/kiwi/internal/memory"
	"github.com/weeargh/kiwi/internal/repository"
)

func seed(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	for _, g := range []grant.Grant{
		{ID: "g2", TenantID: "t1", GrantDate: civil.MustParse("2023-05-01"), ShareAmount: decimal.NewFromInt(48), Status: grant.StatusActive, Version: 1},
		{ID: "g1", TenantID: "t1", GrantDate: civil.MustParse("2022-05-01"), ShareAmount: decimal.NewFromInt(48), Status: grant.StatusActive, Version: 1},
		{ID: "g3", TenantID: "t1", GrantDate: civil.MustParse("2021-05-01"), ShareAmount: decimal.NewFromInt(48), Status: grant.StatusInactive, Version: 1},
		{ID: "g4", TenantID: "t2", GrantDate: civil.MustParse("2021-05-01"), ShareAmount: decimal.NewFromInt(48), Status: grant.StatusActive, Version: 1},
	} {
		s.PutGrant(g)
	}
	return s
}

func event(grantID, date, shares string) *vesting.Event {
	return &vesting.Event{
		ID:           grantID + "-" + date,
		GrantID:      grantID,
		TenantID:     "t1",
		VestDate:     civil.MustParse(date),
		SharesVested: decimal.RequireFromString(shares),
		Source:       vesting.SourceScheduled,
	}
}

func TestStore_ListActive(t *testing.T) {
	s := seed(t)
	grants, err := s.ListActive(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "g1", grants[0].ID)
	assert.Equal(t, "g2", grants[1].ID)
}

func TestStore_GetGrantScopedToTenant(t *testing.T) {
	s := seed(t)
	_, err := s.GetGrant(context.Background(), "t2", "g1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	g, err := s.GetGrant(context.Background(), "t1", "g1")
	require.NoError(t, err)
	g.Version = 99

	again, err := s.GetGrant(context.Background(), "t1", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version, "GetGrant returns a copy")
}

func TestStore_TryInsertUnique(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	err := s.WithGrantTx(ctx, "t1", "g1", func(tx vesting.Tx) error {
		res, err := tx.TryInsert(ctx, event("g1", "2023-05-01", "12"))
		require.NoError(t, err)
		assert.Equal(t, vesting.Inserted, res)

		res, err = tx.TryInsert(ctx, event("g1", "2023-05-01", "1"))
		require.NoError(t, err)
		assert.Equal(t, vesting.AlreadyExists, res)

		sum, err := tx.SumVested(ctx)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(12)))

		ok, err := tx.CompareAndSwapVested(ctx, 1, sum)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, "t1", "g1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	g, _ := s.GetGrant(ctx, "t1", "g1")
	assert.Equal(t, int64(2), g.Version)
}

func TestStore_CompareAndSwapStaleVersion(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	err := s.WithGrantTx(ctx, "t1", "g1", func(tx vesting.Tx) error {
		ok, err := tx.CompareAndSwapVested(ctx, 7, decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_TryInsertMissingGrant(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	err := s.WithGrantTx(ctx, "t1", "nope", func(tx vesting.Tx) error {
		_, err := tx.TryInsert(ctx, event("nope", "2023-05-01", "1"))
		return err
	})
	require.ErrorIs(t, err, repository.ErrForeignKeyViolation)
}

func TestStore_Rollback(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	s.PutEvent(*event("g1", "2023-05-01", "12"))
	boom := errors.New("boom")

	err := s.WithGrantTx(ctx, "t1", "g1", func(tx vesting.Tx) error {
		_, err := tx.TryInsert(ctx, event("g1", "2023-06-01", "1"))
		require.NoError(t, err)
		ok, err := tx.CompareAndSwapVested(ctx, 1, decimal.NewFromInt(13))
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	dates, err := s.ListVestDates(ctx, "t1", "g1")
	require.NoError(t, err)
	assert.Equal(t, []civil.Date{civil.MustParse("2023-05-01")}, dates)

	g, err := s.GetGrant(ctx, "t1", "g1")
	require.NoError(t, err)
	assert.True(t, g.VestedAmount.Equal(decimal.NewFromInt(12)), "aggregate rewritten from ledger")
	assert.Equal(t, int64(3), g.Version)
}

func TestStore_WithGrantTxCanceled(t *testing.T) {
	s := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithGrantTx(ctx, "t1", "g1", func(vesting.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
