// Package testserver runs the full HTTP stack over an in-memory database for
// end-to-end tests.
package testserver

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weeargh/kiwi/internal/app"
	"github.com/weeargh/kiwi/internal/config"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/sqlite"
	"github.com/weeargh/kiwi/internal/transport"
)

type TestServer struct {
	Server   *httptest.Server
	App      *app.App
	DB       *sqlite.DB
	Token    string
	TenantID string
}

// New starts a server with auth enabled and one tenant reachable through
// token. The tenant uses timezone UTC.
func New(t *testing.T, token, tenantID string) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	cfg := config.Defaults()
	cfg.PriceCache.Enabled = false
	a, err := app.Wire(context.Background(), db, cfg, nil)
	require.NoError(t, err)

	server := httptest.NewServer(transport.NewServer(a.Handler, transport.Options{
		Auth: transport.AuthMiddleware(a),
	}))

	ts := &TestServer{
		Server:   server,
		App:      a,
		DB:       db,
		Token:    token,
		TenantID: tenantID,
	}

	require.NoError(t, ts.AddTenant(tenantID, "UTC"))
	require.NoError(t, ts.AddAPIKey(token, tenantID))

	t.Cleanup(func() {
		server.Close()
		_ = a.Close()
		_ = db.Close()
	})

	return ts
}

// AddTenant registers a tenant directly through the service layer.
func (ts *TestServer) AddTenant(tenantID, timezone string) error {
	_, err := ts.App.Tenants.Create(context.Background(), tenant.CreateRequest{
		ID:       tenantID,
		Name:     tenantID,
		Timezone: timezone,
	})
	return err
}

func (ts *TestServer) AddAPIKey(token, tenantID string) error {
	return ts.App.IssueAPIKey(context.Background(), tenantID, token, "test")
}
