package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/weeargh/kiwi/internal/api"
)

// Dispatcher handles JSON-RPC method dispatch.
type Dispatcher interface {
	Handle(ctx context.Context, tenantID, actorID, method string, params json.RawMessage) (any, error)
}

// Options configures the HTTP router.
type Options struct {
	// Auth authenticates /rpc and /mcp. Nil leaves them open, in which case
	// DefaultTenant is used.
	Auth          func(http.Handler) http.Handler
	DefaultTenant string
	// MCP, when set, is mounted at /mcp behind the same middleware.
	MCP http.Handler
}

// Server wires HTTP handlers.
type Server struct {
	handler Dispatcher
}

// NewServer creates an HTTP server router with middleware.
func NewServer(handler Dispatcher, opts Options) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	srv := &Server{handler: handler}

	r.Get("/health", srv.handleHealth)

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		} else {
			r.Use(DefaultTenantMiddleware(opts.DefaultTenant))
		}
		r.Use(ActorMiddleware)

		r.Post("/rpc", srv.handleRPC)
		if opts.MCP != nil {
			r.Handle("/mcp", opts.MCP)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		code := CodeInvalidRequest
		if errors.Is(err, ErrParse) {
			code = CodeParseError
		}
		WriteError(w, nil, &Error{Code: code, Message: err.Error()})
		return
	}

	tenantID, ok := TenantFromContext(r.Context())
	if !ok || tenantID == "" {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}

	actorID, _ := ActorFromContext(r.Context())

	result, err := s.handler.Handle(r.Context(), tenantID, actorID, req.Method, req.Params)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if apiErr := api.MapError(err); apiErr != nil {
			WriteError(w, req.ID, FromAPIError(apiErr))
			return
		}
		WriteError(w, req.ID, &Error{Code: CodeInternal, Message: err.Error()})
		return
	}

	WriteResult(w, req.ID, result)
}
