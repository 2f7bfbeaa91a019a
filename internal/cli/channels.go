package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
)

func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <json>",
		Short: "Append a JSON payload to a channel",
		Example: `  inkwell publish purchases '{"action":"BUY","product":"banana","quantity":2}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !jsonAPI.Valid([]byte(args[1])) {
				return NewExitError(ExitCommandError, "payload is not valid JSON")
			}

			ctx := cmd.Context()
			n, err := rootOpts.openNode(ctx, cmd)
			if err != nil {
				return err
			}
			defer n.Close(context.WithoutCancel(ctx))

			pos, err := n.Transport.PublishSync(ctx, args[0], []byte(args[1]))
			if err != nil {
				if errors.Is(err, inkwell.ErrChannelDenied) {
					return WrapExitError(ExitFailure, "publish refused", err)
				}
				return WrapExitError(ExitCommandError, "publish failed", err)
			}
			return rootOpts.formatter(cmd.OutOrStdout()).Success(
				map[string]any{"channel": args[0], "position": int64(pos)},
				strconv.FormatInt(int64(pos), 10))
		},
	}
}

// TailOptions holds flags for the tail command.
type TailOptions struct {
	*RootOptions
	After   int64
	Count   int
	Timeout time.Duration
}

type tailLine struct {
	Channel   string    `json:"channel" yaml:"channel"`
	Position  int64     `json:"position" yaml:"position"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Payload   any       `json:"payload" yaml:"payload"`
}

func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail <channel>",
		Short: "Follow the events of a channel",
		Long: `Follow the events of a channel.

By default only events appended after the command starts are printed. Use
--after 0 to replay the whole channel, or --after N to resume after
position N. Corrupt events are reported on stderr and skipped.`,
		Example: `  inkwell tail purchases --after 0 --count 10
  inkwell tail purchases --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(opts, cmd, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", int64(channel.Latest), "resume after this position (0 replays, -1 follows new events)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many events (0 follows until interrupted)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "exit after this long (0 for no limit)")
	return cmd
}

func runTail(opts *TailOptions, cmd *cobra.Command, name string) error {
	ctx := cmd.Context()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	n, err := opts.openNode(ctx, cmd)
	if err != nil {
		return err
	}
	defer n.Close(context.WithoutCancel(ctx))

	out := opts.formatter(cmd.OutOrStdout())
	events := make(chan channel.Event)
	sub, err := n.Transport.Subscribe(ctx, name, channel.Position(opts.After), func(ctx context.Context, rec channel.Record) error {
		evt, err := channel.Decode(rec)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skip corrupt event %d: %v\n", rec.Position, err)
			return nil
		}
		select {
		case events <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		if errors.Is(err, inkwell.ErrChannelDenied) {
			return WrapExitError(ExitFailure, "subscribe refused", err)
		}
		return WrapExitError(ExitCommandError, "subscribe failed", err)
	}
	defer sub.Close()

	seen := 0
	for opts.Count == 0 || seen < opts.Count {
		select {
		case evt := <-events:
			if err := out.Line(lineFor(evt), fmt.Sprintf("%d\t%s", evt.Position, evt.Payload)); err != nil {
				return err
			}
			seen++
		case <-ctx.Done():
			if opts.Count > 0 {
				return WrapExitError(ExitFailure, fmt.Sprintf("received %d of %d events", seen, opts.Count), ctx.Err())
			}
			return nil
		}
	}
	return nil
}

func lineFor(evt channel.Event) tailLine {
	var payload any
	if err := jsonAPI.Unmarshal(evt.Payload, &payload); err != nil {
		payload = string(evt.Payload)
	}
	return tailLine{
		Channel:   evt.Channel,
		Position:  int64(evt.Position),
		Timestamp: evt.Timestamp,
		Payload:   payload,
	}
}
