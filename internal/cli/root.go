// Package cli implements the inkwell operator command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ripkitten-co/inkwell/config"
	"github.com/ripkitten-co/inkwell/node"
)

// RootOptions holds global flags for all commands. Backend flags override
// the INKWELL_* environment.
type RootOptions struct {
	Verbose     bool
	Format      string // "text" | "json" | "yaml"
	Transport   string
	Storage     string
	SQLitePath  string
	PostgresURL string
}

var ValidFormats = []string{"text", "json", "yaml"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "inkwell",
		Short: "inkwell - event channels, binders and projections",
		Long:  "Inspect binders and channels of an inkwell node.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Transport, "transport", "", "channel transport (memory|postgres|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.Storage, "storage", "", "binder storage (memory|postgres|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite", "", "SQLite file for sqlite transport or storage")
	cmd.PersistentFlags().StringVar(&opts.PostgresURL, "postgres", "", "PostgreSQL connection string")

	cmd.AddCommand(NewBindersCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewTailCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: w}
}

// openNode loads the environment, applies flag overrides and opens a node.
// Logs go to stderr so they never mix with formatted output.
func (o *RootOptions) openNode(ctx context.Context, cmd *cobra.Command) (*node.Node, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Transport != "" {
		cfg.Transport = o.Transport
	}
	if o.Storage != "" {
		cfg.Storage = o.Storage
	}
	if o.SQLitePath != "" {
		cfg.SQLitePath = o.SQLitePath
	}
	if o.PostgresURL != "" {
		cfg.PostgresURL = o.PostgresURL
	}

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	n, err := node.Open(ctx, cfg, node.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open node", err)
	}
	return n, nil
}
