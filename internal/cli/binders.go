package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/binder"
)

func NewBindersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "binders",
		Short: "List binders",
		Example: `  inkwell binders --storage sqlite --sqlite ./node.db
  inkwell binders --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rootOpts.openNode(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer n.Close(context.WithoutCancel(cmd.Context()))

			names := n.Binders.Names()
			return rootOpts.formatter(cmd.OutOrStdout()).Success(names, strings.Join(names, "\n"))
		},
	}
}

func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <binder> <id>",
		Short:         "Print one document",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := rootOpts.openNode(ctx, cmd)
			if err != nil {
				return err
			}
			defer n.Close(context.WithoutCancel(ctx))

			b, ok := n.Binders.Get(args[0])
			if !ok {
				return WrapExitError(ExitFailure, "binder "+args[0], inkwell.ErrNotFound)
			}
			doc, ok, err := b.Get(ctx, args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read document", err)
			}
			if !ok {
				return WrapExitError(ExitFailure, fmt.Sprintf("document %s/%s", args[0], args[1]), inkwell.ErrNotFound)
			}
			text, _ := jsonAPI.MarshalToString(doc)
			return rootOpts.formatter(cmd.OutOrStdout()).Success(doc, text)
		},
	}
}

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Where []string
	Limit int
}

func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <binder>",
		Short: "List documents of a binder",
		Long: `List documents of a binder in id order.

--where field=value keeps documents whose field equals value when both are
rendered as text. Repeat it to require several fields.`,
		Example: `  inkwell scan totals --where product=banana
  inkwell scan totals --limit 10 --format yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "field=value filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum documents to print (0 for all)")
	return cmd
}

type scanEntry struct {
	ID       string           `json:"id" yaml:"id"`
	Document inkwell.Document `json:"document" yaml:"document"`
}

func runScan(opts *ScanOptions, cmd *cobra.Command, name string) error {
	pred, err := wherePredicate(opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --where", err)
	}

	ctx := cmd.Context()
	n, err := opts.openNode(ctx, cmd)
	if err != nil {
		return err
	}
	defer n.Close(context.WithoutCancel(ctx))

	b, ok := n.Binders.Get(name)
	if !ok {
		return WrapExitError(ExitFailure, "binder "+name, inkwell.ErrNotFound)
	}

	entries := []scanEntry{}
	var lines []string
	for e, err := range b.Scan(ctx, pred) {
		if err != nil {
			return WrapExitError(ExitCommandError, "scan failed", err)
		}
		entries = append(entries, scanEntry{ID: e.ID, Document: e.Document})
		text, _ := jsonAPI.MarshalToString(e.Document)
		lines = append(lines, e.ID+"\t"+text)
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
	}
	return opts.formatter(cmd.OutOrStdout()).Success(entries, strings.Join(lines, "\n"))
}

func wherePredicate(clauses []string) (binder.Predicate, error) {
	if len(clauses) == 0 {
		return nil, nil
	}
	want := make(map[string]string, len(clauses))
	for _, c := range clauses {
		field, value, ok := strings.Cut(c, "=")
		if !ok || field == "" {
			return nil, errors.New("expected field=value, got " + c)
		}
		want[field] = value
	}
	return func(_ string, doc inkwell.Document) bool {
		for field, value := range want {
			v, ok := doc[field]
			if !ok || fmt.Sprint(v) != value {
				return false
			}
		}
		return true
	}, nil
}

// DropOptions holds flags for the drop command.
type DropOptions struct {
	*RootOptions
	Yes bool
}

func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DropOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "drop <binder>",
		Short:         "Irreversibly delete a binder and its documents",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return NewExitError(ExitCommandError, "refusing to drop "+args[0]+" without --yes")
			}
			ctx := cmd.Context()
			n, err := opts.openNode(ctx, cmd)
			if err != nil {
				return err
			}
			defer n.Close(context.WithoutCancel(ctx))

			if err := n.Binders.Drop(ctx, args[0]); err != nil {
				if errors.Is(err, inkwell.ErrNotFound) {
					return WrapExitError(ExitFailure, "binder "+args[0], err)
				}
				return WrapExitError(ExitCommandError, "drop failed", err)
			}
			return opts.formatter(cmd.OutOrStdout()).Success(map[string]string{"dropped": args[0]}, "dropped "+args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm the drop")
	return cmd
}
