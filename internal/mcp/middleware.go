package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// actorHeader matches the header read by the JSON-RPC transport.
const actorHeader = "X-Actor-Id"

// errUnauthorized is returned to the client for any credential failure.
var errUnauthorized = errors.New("unauthorized")

// identity is who a request acts as: the tenant whose data it touches and
// the actor recorded in the audit log.
type identity struct {
	tenantID string
	actorID  string
}

type identityKey struct{}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

func getTenantID(ctx context.Context) string { return identityFrom(ctx).tenantID }

func getActorID(ctx context.Context) string { return identityFrom(ctx).actorID }

// TenantResolver resolves a tenant ID from a bearer token.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, token string) (string, error)
}

// tenantFunc picks the tenant for one request.
type tenantFunc func(ctx context.Context, method string, header http.Header) (string, error)

func bearerTenant(resolver TenantResolver) tenantFunc {
	return func(ctx context.Context, method string, header http.Header) (string, error) {
		token := bearerToken(header)
		if token == "" {
			return "", fmt.Errorf("%w: missing bearer token", errUnauthorized)
		}
		tenantID, err := resolver.ResolveTenant(ctx, token)
		if err != nil || tenantID == "" {
			return "", fmt.Errorf("%w: invalid bearer token", errUnauthorized)
		}
		return tenantID, nil
	}
}

func fixedTenant(tenantID string) tenantFunc {
	return func(context.Context, string, http.Header) (string, error) {
		return tenantID, nil
	}
}

// identityMiddleware resolves the tenant, then the actor: the X-Actor-Id
// header over HTTP, _meta.actor_id over stdio, else "mcp:<tenant>".
// Handshake methods pass through without a tenant.
func identityMiddleware(resolve tenantFunc) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			var header http.Header
			if extra := req.GetExtra(); extra != nil {
				header = extra.Header
			}

			tenantID, err := resolve(ctx, method, header)
			if err != nil {
				if isHandshake(method) {
					return next(ctx, method, req)
				}
				return nil, err
			}

			actorID := strings.TrimSpace(header.Get(actorHeader))
			if actorID == "" {
				actorID = metaActor(req)
			}
			if actorID == "" {
				actorID = "mcp:" + tenantID
			}

			ctx = context.WithValue(ctx, identityKey{}, identity{tenantID: tenantID, actorID: actorID})
			return next(ctx, method, req)
		}
	}
}

func isHandshake(method string) bool {
	return method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/")
}

func bearerToken(header http.Header) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// metaActor reads _meta.actor_id. Notifications such as "initialized" may
// carry nil params whose GetMeta panics on the nil receiver.
func metaActor(req sdkmcp.Request) (actorID string) {
	params := req.GetParams()
	if params == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			actorID = ""
		}
	}()
	if id, ok := params.GetMeta()["actor_id"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}
