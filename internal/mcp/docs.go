package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `kiwi-vesting records equity vesting for employee grants.

Core concepts:
- Grant: shares issued to an employee on a grant date. vested_amount never exceeds share_amount.
- Schedule: 48 monthly tranches from the grant date with a 12-month cliff. Nothing vests before the cliff;
  the cliff date vests the first 12 tranches at once, then one tranche per month.
- Ledger: one immutable vesting event per grant and date. Processing is idempotent; rerunning never duplicates.
- Tenant date: "today" is the calendar date in the tenant's timezone, not the server's.

Tools:
- process_grant: vest one grant up to as_of (default tenant today).
- run_daily_vesting: vest every active grant of every active tenant.
- get_vesting_schedule / list_vesting_events / get_grant: inspect.
- record_manual_vesting: operator correction; rejected on a vested date or over-vesting.

Docs:
- vesting://docs/schedule
- vesting://docs/errors
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "vesting://docs/schedule",
		Name:        "schedule_rules",
		Title:       "Vesting schedule rules",
		Description: "How schedule dates and tranche sizes are derived, with worked examples.",
		Content: `# Vesting schedule rules

## Dates

Tranche N (1..48) vests on grant_date + N months. When the target month is shorter than the
grant's day of month, the date clamps to the month's last day:

- 2023-01-31 → 2023-02-28, 2023-03-31, 2023-04-30, ...
- 2024-01-31 → 2024-02-29 (leap year)

## Sizes

standard = share_amount / 48, rounded half-to-even to 3 decimals. The first 47 tranches are
standard; the 48th absorbs the rounding so the schedule sums to share_amount exactly.

- 4800 shares: 48 × 100
- 1000 shares: 47 × 20.833, last 20.849

## Cliff

Nothing vests before tranche 12. On the cliff date one event records tranches 1-12 together,
so a full schedule has 37 events: the cliff plus 36 monthly events.

## Backdated grants

A grant dated in the past vests everything due up to today as soon as it is created. If that
handoff fails the daily batch catches the grant up.
`,
	},
	{
		URI:         "vesting://docs/errors",
		Name:        "error_kinds",
		Title:       "Tool error kinds",
		Description: "The code field of a failed tool call and what to do about it.",
		Content: `# Tool error kinds

A failed tool call returns is_error with {"code", "message", "recovery_hint"}.

| code | meaning |
|---|---|
| GRANT_NOT_FOUND | no grant with that ID for this tenant |
| TENANT_NOT_FOUND | the caller's tenant is not registered |
| GRANT_INACTIVE | the grant was terminated and no longer vests |
| DUPLICATE_VEST_DATE | a manual event targets a date already in the ledger |
| EXCEEDS_GRANT | a manual event would vest more than share_amount |
| INVALID_SHARES | shares must be positive with at most 3 decimals |
| CONFLICT | the grant changed concurrently; reload and retry |
| RECONCILE_EXHAUSTED | concurrent writers kept racing; retry later, the ledger is intact |
| INVALID_INPUT / INVALID_PARAMS | malformed arguments |
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
