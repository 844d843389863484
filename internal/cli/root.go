// Package cli implements vestingctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/weeargh/kiwi/internal/app"
	"github.com/weeargh/kiwi/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath  string
	Format  string // "json" | "text"
	Verbose bool
	// LoadConfig defaults to config.Load.
	LoadConfig func() (config.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for vestingctl.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vestingctl",
		Short: "Operate the equity vesting engine",
		Long: `vestingctl runs vesting operations directly against the vesting database.

Grants vest monthly over 48 months from their grant date with a 12-month cliff,
each tenant on its own local calendar date.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "database path (overrides VESTING_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine activity to stderr")

	cmd.AddCommand(newTenantCommand(opts))
	cmd.AddCommand(newKeyCommand(opts))
	cmd.AddCommand(newGrantCommand(opts))
	cmd.AddCommand(newProcessCommand(opts))
	cmd.AddCommand(newRunDailyCommand(opts))
	cmd.AddCommand(newScheduleCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	cmd.AddCommand(newManualCommand(opts))

	return cmd
}

// openApp wires the engine for one command. New grants vest inline: the CLI
// never hands off to a broker.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app.App, error) {
	load := opts.LoadConfig
	if load == nil {
		load = config.Load
	}
	cfg, err := load()
	if err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	if opts.DBPath != "" {
		cfg.DB.Path = opts.DBPath
	}
	cfg.Trigger.Mode = "sync"

	var logger *slog.Logger
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening vesting database", err)
	}
	return a, nil
}

// Execute runs the root command and exits with its status.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(GetExitCode(err))
	}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
