package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Dispatcher runs an API method on behalf of a tenant and actor.
type Dispatcher interface {
	Handle(ctx context.Context, tenantID, actorID, method string, params json.RawMessage) (any, error)
}

// Config contains server configuration.
type Config struct {
	Dispatcher    Dispatcher
	Resolver      TenantResolver
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	// DefaultTenant is used whenever auth is off.
	DefaultTenant string
	Version       string
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "kiwi-vesting",
		Version: version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio is local only, so it never authenticates.
	resolve := fixedTenant(cfg.DefaultTenant)
	if cfg.TransportMode != "stdio" && cfg.AuthEnabled {
		resolve = bearerTenant(cfg.Resolver)
	}
	// Within one call the first middleware runs first, so the identity is
	// known before traffic is logged.
	server.AddReceivingMiddleware(
		identityMiddleware(resolve),
		trafficLoggingMiddleware(cfg.Logger, "inbound"),
	)
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Dispatcher, cfg.Logger)

	return server
}
