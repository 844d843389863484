package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/weeargh/kiwi/internal/api"
)

// toolDefinition binds an MCP tool to the API method it runs.
type toolDefinition struct {
	Name        string
	Description string
	Method      string
	InputSchema map[string]any
}

var grantIDProperty = map[string]any{
	"type":        "string",
	"description": "Grant identifier",
}

// buildToolCatalog returns all available MCP tools.
func buildToolCatalog() []toolDefinition {
	return []toolDefinition{
		{
			Name:        "process_grant",
			Description: "Record every vesting event due for a grant up to a date. Safe to repeat: already vested dates are skipped.",
			Method:      "vesting.process",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"grant_id": grantIDProperty,
					"as_of": map[string]any{
						"type":        "string",
						"description": "Vest up to this date (YYYY-MM-DD). Defaults to today in the tenant's timezone.",
					},
				},
				"required": []string{"grant_id"},
			},
		},
		{
			Name:        "run_daily_vesting",
			Description: "Run the daily vesting batch for every active tenant, each at its local date",
			Method:      "batch.run_daily",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_vesting_schedule",
			Description: "Show a grant's 48-month schedule: the cliff event, the monthly events, and which dates already vested",
			Method:      "vesting.schedule",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"grant_id": grantIDProperty,
				},
				"required": []string{"grant_id"},
			},
		},
		{
			Name:        "list_vesting_events",
			Description: "List a grant's recorded vesting events ordered by date, with the total vested",
			Method:      "vesting.events",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"grant_id": grantIDProperty,
				},
				"required": []string{"grant_id"},
			},
		},
		{
			Name:        "get_grant",
			Description: "Get a grant with its vested amount and status",
			Method:      "grant.get",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"grant_id": grantIDProperty,
				},
				"required": []string{"grant_id"},
			},
		},
		{
			Name:        "record_manual_vesting",
			Description: "Record an operator-entered vesting event. Rejected if the date already vested or the grant would be over-vested.",
			Method:      "vesting.record_manual",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"grant_id": grantIDProperty,
					"vest_date": map[string]any{
						"type":        "string",
						"description": "Vest date (YYYY-MM-DD)",
					},
					"shares": map[string]any{
						"type":        "string",
						"description": "Shares to vest, positive with at most 3 decimals",
					},
				},
				"required": []string{"grant_id", "vest_date", "shares"},
			},
		},
	}
}

func registerTools(server *sdkmcp.Server, dispatcher Dispatcher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, def := range buildToolCatalog() {
		server.AddTool(&sdkmcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}, toolHandler(dispatcher, def.Method, logger))
	}
}

func toolHandler(dispatcher Dispatcher, method string, logger *slog.Logger) sdkmcp.ToolHandler {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}

		result, err := dispatcher.Handle(ctx, getTenantID(ctx), getActorID(ctx), method, args)
		if err != nil {
			logger.Warn("mcp tool failed", "method", method, "tenant_id", getTenantID(ctx), "error", err)
			return toolError(err), nil
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encoding %s result: %w", method, err)
		}
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
		}, nil
	}
}

// toolError reports a failure inside the tool result so the model can see
// and act on it, rather than as a protocol error.
func toolError(err error) *sdkmcp.CallToolResult {
	payload := map[string]any{"code": "INTERNAL", "message": err.Error()}
	if apiErr := api.MapError(err); apiErr != nil {
		payload = map[string]any{"code": apiErr.Kind, "message": apiErr.Message}
		if apiErr.RecoveryHint != "" {
			payload["recovery_hint"] = apiErr.RecoveryHint
		}
	}
	data, _ := json.Marshal(payload)
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}
}
