package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tailCount int

var tailCmd = &cobra.Command{
	Use:   "tail <pattern>",
	Short: "Print live events matching a topic pattern",
	Long: `Subscribe to a topic pattern and print events as they arrive until
interrupted. "*" matches one topic segment and "#" matches zero or more.`,
	Example: `  eventbus tail 'verity.document.*'
  eventbus tail '#' --json --count 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sub, err := be.bus.Subscribe(ctx, args[0])
		if err != nil {
			return err
		}
		defer sub.Close(ctx)

		n := 0
		for ev := range sub.Events(ctx) {
			if err := printEvent(cmd.OutOrStdout(), ev); err != nil {
				return err
			}
			n++
			if tailCount > 0 && n >= tailCount {
				break
			}
		}
		if d := sub.Dropped(); d > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d events dropped while the terminal lagged\n", d)
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().IntVarP(&tailCount, "count", "n", 0, "exit after this many events (0 = until interrupted)")
}
