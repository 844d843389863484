package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/weeargh/kiwi/internal/api"
)

// JSON-RPC 2.0 error codes. Domain codes live in internal/api.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = api.CodeMethodNotFound
	CodeInvalidParams  = api.CodeInvalidParams
	CodeInternal       = api.CodeInternal
)

// MaxRequestBytes caps a single /rpc body.
const MaxRequestBytes = 1 << 20

var (
	// ErrParse means the body was not valid JSON.
	ErrParse = errors.New("parse error")
	// ErrInvalidRequest means the body was JSON but not a JSON-RPC 2.0 call.
	ErrInvalidRequest = errors.New("invalid request")
)

// Request is a single JSON-RPC 2.0 call. Batches are not accepted.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorData is attached to every domain error so clients can branch on Kind
// instead of parsing messages.
type ErrorData struct {
	Kind         string `json:"kind"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

// ParseRequest decodes one call from body. The error wraps ErrParse or
// ErrInvalidRequest.
func ParseRequest(body io.Reader) (Request, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return Request{}, fmt.Errorf("%w: batch calls are not supported", ErrInvalidRequest)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if req.JSONRPC != "2.0" {
		return Request{}, fmt.Errorf("%w: jsonrpc must be \"2.0\"", ErrInvalidRequest)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	return req, nil
}

// FromAPIError converts a domain error into its wire form.
func FromAPIError(e *api.Error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Data:    ErrorData{Kind: e.Kind, RecoveryHint: e.RecoveryHint},
	}
}

// WriteResult writes a success response.
func WriteResult(w http.ResponseWriter, id any, result any) {
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: id})
}

// WriteError writes an error response. JSON-RPC errors still travel as 200.
func WriteError(w http.ResponseWriter, id any, rpcErr *Error) {
	writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: id})
}

func writeJSON(w http.ResponseWriter, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
