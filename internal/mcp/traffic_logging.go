package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxLoggedPayload truncates payloads in debug traffic logs.
const maxLoggedPayload = 2048

// trafficLoggingMiddleware logs every tool call at info with its outcome and
// duration. Full payloads are logged only at debug.
func trafficLoggingMiddleware(logger *slog.Logger, direction string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if logger == nil {
				return next(ctx, method, req)
			}
			debug := logger.Enabled(ctx, slog.LevelDebug)
			if !debug && method != "tools/call" {
				return next(ctx, method, req)
			}

			id := identityFrom(ctx)
			attrs := []any{"direction", direction, "method", method, "tenant_id", id.tenantID, "actor_id", id.actorID}
			if tool := toolName(req); tool != "" {
				attrs = append(attrs, "tool", tool)
			}
			if debug {
				logger.Debug("mcp request", append(attrs, "params", formatPayload(req.GetParams()))...)
			}

			start := time.Now()
			result, err := next(ctx, method, req)
			if strings.HasPrefix(method, "notifications/") {
				return result, err
			}

			attrs = append(attrs, "duration_ms", time.Since(start).Milliseconds())
			if tr, ok := result.(*sdkmcp.CallToolResult); ok && tr != nil {
				attrs = append(attrs, "is_error", tr.IsError)
			}
			switch {
			case err != nil:
				logger.Warn("mcp call failed", append(attrs, "error", err)...)
			case debug:
				logger.Debug("mcp response", append(attrs, "result", formatPayload(result))...)
			default:
				logger.Info("mcp call", attrs...)
			}
			return result, err
		}
	}
}

func toolName(req sdkmcp.Request) string {
	if p, ok := req.GetParams().(*sdkmcp.CallToolParamsRaw); ok && p != nil {
		return p.Name
	}
	return ""
}

func formatPayload(payload any) string {
	if payload == nil {
		return "<nil>"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	if len(data) > maxLoggedPayload {
		return string(data[:maxLoggedPayload]) + "...(truncated)"
	}
	return string(data)
}
