package transport

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader names the operator performing a request, for the audit log.
const ActorHeader = "X-Actor-Id"

type actorKey struct{}

// ActorFromContext returns the actor ID from context, if present.
func ActorFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorKey{}).(string)
	return actorID, ok
}

// ActorMiddleware stores the X-Actor-Id header in context. Requests without
// one act as "api:<tenant>".
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actorID == "" {
			tenantID, _ := TenantFromContext(r.Context())
			actorID = "api:" + tenantID
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
