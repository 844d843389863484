package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/vesting"
)

func openFileDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnDSN(t *testing.T) {
	assert.Equal(t,
		":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate",
		connDSN(":memory:"))
	assert.Equal(t,
		"file:x?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate",
		connDSN("file:x?mode=memory&cache=shared"))
	assert.Equal(t,
		"/tmp/v.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_pragma=journal_mode(WAL)",
		connDSN("/tmp/v.db"))
}

func TestPragmasSurviveConnectionChurn(t *testing.T) {
	db := openFileDB(t, filepath.Join(t.TempDir(), "v.db"))
	// No idle connections: every query below dials a fresh one.
	db.SetMaxIdleConns(0)

	for i := 0; i < 3; i++ {
		var fk, timeout int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 1, fk)
		assert.Equal(t, 5000, timeout)

		var mode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
	}
}

func TestProcess_TwoHandlesOnOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.db")
	first := openFileDB(t, path)
	require.NoError(t, first.RunMigrations())
	second := openFileDB(t, path)

	const grants = 20
	insertTenant(t, first, "t1", "UTC")
	for i := 0; i < grants; i++ {
		insertGrant(t, first, "t1", fmt.Sprintf("g%02d", i), "2020-01-15", "4800")
	}

	processors := []*vesting.Processor{
		vesting.NewProcessor(NewVestingStore(first), nil, nil, nil, nil),
		vesting.NewProcessor(NewVestingStore(second), nil, nil, nil, nil),
	}

	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < grants; i++ {
		for _, p := range processors {
			wg.Add(1)
			go func(p *vesting.Processor, grantID string) {
				defer wg.Done()
				_, err := p.Process(ctx, vesting.ProcessRequest{
					TenantID: "t1",
					GrantID:  grantID,
					AsOf:     civil.MustParse("2025-01-01"),
				})
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(p, fmt.Sprintf("g%02d", i))
		}
	}
	wg.Wait()
	require.Empty(t, errs)

	store := NewVestingStore(second)
	for i := 0; i < grants; i++ {
		id := fmt.Sprintf("g%02d", i)
		events, err := store.ListEvents(ctx, "t1", id)
		require.NoError(t, err)
		assert.Len(t, events, 37, id)

		g, err := store.GetGrant(ctx, "t1", id)
		require.NoError(t, err)
		assert.True(t, g.VestedAmount.Equal(decimal.NewFromInt(4800)), "%s vested %s", id, g.VestedAmount)
	}
}
