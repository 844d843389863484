package cli

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/weeargh/kiwi/internal/api"
	"github.com/weeargh/kiwi/internal/app"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
)

// withApp opens the engine, runs fn and closes it.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(a *app.App, out *formatter) error) error {
	a, err := openApp(cmd.Context(), cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, &formatter{format: opts.Format, w: cmd.OutOrStdout()})
}

func parseDateFlag(name, value string) (civil.Date, error) {
	d, err := civil.ParseDate(value)
	if err != nil {
		return civil.Date{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s: %v", name, err))
	}
	return d, nil
}

func newTenantCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var id, name, timezone string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and its IANA timezone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				t, err := a.Tenants.Create(cmd.Context(), tenant.CreateRequest{ID: id, Name: name, Timezone: timezone})
				if err != nil {
					return out.failure(err)
				}
				return out.success(t, func(w io.Writer) {
					fmt.Fprintf(w, "tenant %s created (%s)\n", t.ID, t.Timezone)
				})
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "tenant id (generated when empty)")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone, e.g. Pacific/Auckland")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)

	return cmd
}

func newKeyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}

	var tenantID, token, description string
	create := &cobra.Command{
		Use:   "create",
		Short: "Store a bearer token for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				if err := a.IssueAPIKey(cmd.Context(), tenantID, token, description); err != nil {
					return out.failure(err)
				}
				return out.success(map[string]string{"tenant_id": tenantID}, func(w io.Writer) {
					fmt.Fprintf(w, "api key stored for tenant %s\n", tenantID)
				})
			})
		},
	}
	create.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	create.Flags().StringVar(&token, "token", "", "raw bearer token; only its hash is stored")
	create.Flags().StringVar(&description, "description", "", "what the key is for")
	_ = create.MarkFlagRequired("tenant")
	_ = create.MarkFlagRequired("token")
	cmd.AddCommand(create)

	return cmd
}

func newGrantCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage grants",
	}

	var tenantID, id, employee, date, shares string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a grant; a backdated grant vests what is already due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			grantDate, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(shares)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --shares: %v", err))
			}
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				resp, err := a.Handler.CreateGrant(cmd.Context(), tenantID, "cli", api.CreateGrantParams{
					ID:          id,
					EmployeeID:  employee,
					GrantDate:   grantDate,
					ShareAmount: amount,
				})
				if err != nil {
					return out.failure(err)
				}
				return out.success(resp, func(w io.Writer) {
					g := resp.Grant
					fmt.Fprintf(w, "grant %s created\t%s shares\tvested %s\n", g.ID, g.ShareAmount, g.VestedAmount)
					if resp.HookError != "" {
						fmt.Fprintf(w, "warning: initial vesting failed: %s\n", resp.HookError)
					}
				})
			})
		},
	}
	create.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	create.Flags().StringVar(&id, "id", "", "grant id (generated when empty)")
	create.Flags().StringVar(&employee, "employee", "", "employee id")
	create.Flags().StringVar(&date, "date", "", "grant date (YYYY-MM-DD)")
	create.Flags().StringVar(&shares, "shares", "", "shares granted, at most 3 decimals")
	for _, f := range []string{"tenant", "employee", "date", "shares"} {
		_ = create.MarkFlagRequired(f)
	}
	cmd.AddCommand(create)

	var terminateTenant string
	terminate := &cobra.Command{
		Use:   "terminate <grant-id>",
		Short: "Stop a grant from vesting further",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				g, err := a.Grants.Terminate(cmd.Context(), terminateTenant, grant.TerminateRequest{GrantID: args[0], ActorID: "cli"})
				if err != nil {
					return out.failure(err)
				}
				return out.success(g, func(w io.Writer) {
					fmt.Fprintf(w, "grant %s terminated\tvested %s of %s\n", g.ID, g.VestedAmount, g.ShareAmount)
				})
			})
		},
	}
	terminate.Flags().StringVar(&terminateTenant, "tenant", "", "tenant id")
	_ = terminate.MarkFlagRequired("tenant")
	cmd.AddCommand(terminate)

	return cmd
}

func newProcessCommand(opts *RootOptions) *cobra.Command {
	var tenantID, asOf string
	cmd := &cobra.Command{
		Use:   "process <grant-id>",
		Short: "Vest one grant up to a date (default: tenant-local today)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := api.ProcessGrantParams{GrantID: args[0]}
			if asOf != "" {
				d, err := parseDateFlag("as-of", asOf)
				if err != nil {
					return err
				}
				params.AsOf = &d
			}
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				resp, err := a.Handler.ProcessGrant(cmd.Context(), tenantID, "cli", params)
				if err != nil {
					return out.failure(err)
				}
				return out.success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "grant %s: %d event(s) created, vested %s of %s\n", resp.GrantID, resp.EventsCreated, resp.VestedAmount, resp.ShareAmount)
					writeEvents(w, resp.Events)
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&asOf, "as-of", "", "vest up to this date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newRunDailyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-daily",
		Short: "Vest every active grant of every active tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				summary, err := a.Handler.RunDaily(cmd.Context())
				if err != nil {
					return out.failure(err)
				}
				if err := out.success(summary, func(w io.Writer) { writeSummary(w, summary) }); err != nil {
					return err
				}
				if len(summary.Errors) > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d grant(s) failed", len(summary.Errors)))
				}
				return nil
			})
		},
	}
}

func newScheduleCommand(opts *RootOptions) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "schedule <grant-id>",
		Short: "Show a grant's vesting schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				resp, err := a.Handler.Schedule(cmd.Context(), tenantID, args[0])
				if err != nil {
					return out.failure(err)
				}
				return out.success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "grant %s: %s shares from %s, cliff %s\n", resp.GrantID, resp.ShareAmount, resp.GrantDate, resp.CliffDate)
					fmt.Fprintln(w, "DATE\tSHARES\tVESTED")
					for _, e := range resp.Entries {
						fmt.Fprintf(w, "%s\t%s\t%t\n", e.Date, e.Shares.StringFixed(vesting.ShareScale), e.Vested)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newEventsCommand(opts *RootOptions) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "events <grant-id>",
		Short: "List a grant's recorded vesting events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				resp, err := a.Handler.Events(cmd.Context(), tenantID, args[0])
				if err != nil {
					return out.failure(err)
				}
				return out.success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "grant %s: %d event(s), %s vested\n", resp.GrantID, len(resp.Events), resp.TotalVested)
					writeEvents(w, resp.Events)
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newManualCommand(opts *RootOptions) *cobra.Command {
	var tenantID, date, shares string
	cmd := &cobra.Command{
		Use:   "manual <grant-id>",
		Short: "Record an operator-entered vesting event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vestDate, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(shares)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --shares: %v", err))
			}
			return withApp(cmd, opts, func(a *app.App, out *formatter) error {
				ev, err := a.Processor.RecordManual(cmd.Context(), vesting.ManualRequest{
					TenantID: tenantID,
					GrantID:  args[0],
					VestDate: vestDate,
					Shares:   amount,
					ActorID:  "cli",
				})
				if err != nil {
					return out.failure(err)
				}
				return out.success(ev, func(w io.Writer) {
					fmt.Fprintf(w, "manual event %s: %s shares on %s\n", ev.ID, ev.SharesVested, ev.VestDate)
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&date, "date", "", "vest date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&shares, "shares", "", "shares to vest")
	for _, f := range []string{"tenant", "date", "shares"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func writeEvents(w io.Writer, events []vesting.Event) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintln(w, "DATE\tSHARES\tPRICE\tSOURCE")
	for _, ev := range events {
		p := "-"
		if ev.PricePerShare != nil {
			p = ev.PricePerShare.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.VestDate, ev.SharesVested.StringFixed(vesting.ShareScale), p, ev.Source)
	}
}

func writeSummary(w io.Writer, s *vesting.Summary) {
	if s.Skipped {
		fmt.Fprintln(w, "skipped: another runner holds today's batch lease")
		return
	}
	fmt.Fprintf(w, "tenants\t%d\n", s.TenantsProcessed)
	fmt.Fprintf(w, "grants\t%d\n", s.GrantsProcessed)
	fmt.Fprintf(w, "events\t%d\n", s.EventsCreated)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "error\t%s\t%s\t%s\n", e.TenantID, e.GrantID, e.Error)
	}
}
