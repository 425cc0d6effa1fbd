package main

import (
	"context"
	"fmt"

	"github.com/rbaliyan/eventbus"
	"github.com/rbaliyan/eventbus/checkpoint"
	"github.com/spf13/cobra"
)

var (
	replaySince    string
	replayMax      int
	replayConsumer string
	replayReset    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <topic>",
	Short: "Print stored events for a topic",
	Long: `Read events from the topic's persistent log, oldest first.

With --consumer the read starts after the consumer's saved cursor and the
cursor advances past the printed events, so repeated runs print each event
once. Replay never re-delivers events to live subscribers.`,
	Example: `  eventbus replay verity.document.created --max 20
  eventbus replay verity.document.created --since 1718000000000-0
  eventbus replay verity.document.created --consumer audit-export`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var (
			events []eventbus.Event
			err    error
		)
		switch {
		case replayConsumer != "":
			if replaySince != "" {
				return fmt.Errorf("--since and --consumer are mutually exclusive")
			}
			if replayReset {
				if err := be.checkpoints.Delete(ctx, checkpoint.Key(replayConsumer, args[0])); err != nil {
					return fmt.Errorf("reset checkpoint: %w", err)
				}
			}
			events, err = be.bus.ReplayFrom(ctx, be.checkpoints, replayConsumer, args[0], replayMax)
		default:
			events, err = be.bus.Replay(ctx, args[0], replaySince, replayMax)
		}
		if err != nil {
			return err
		}

		for _, ev := range events {
			if err := printEvent(cmd.OutOrStdout(), ev); err != nil {
				return err
			}
		}
		if !jsonOutput {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d events\n", len(events))
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replaySince, "since", "", "start after this log cursor (default from the beginning)")
	replayCmd.Flags().IntVar(&replayMax, "max", 100, "maximum number of events")
	replayCmd.Flags().StringVar(&replayConsumer, "consumer", "", "consumer ID whose checkpoint to resume from and advance")
	replayCmd.Flags().BoolVar(&replayReset, "reset", false, "clear the consumer checkpoint before reading")
}
