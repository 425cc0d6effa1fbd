package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check bus and backend health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		result := be.bus.Status(ctx)
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, result); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "Status:   %s\n", result.Status)
			fmt.Fprintf(out, "Backend:  %s\n", cfg.Backend)
			if result.Message != "" {
				fmt.Fprintf(out, "Message:  %s\n", result.Message)
			}
			fmt.Fprintf(out, "Latency:  %s\n", result.Latency)
			for _, k := range slices.Sorted(maps.Keys(result.Details)) {
				fmt.Fprintf(out, "  %-20s %v\n", k+":", result.Details[k])
			}
			for _, name := range slices.Sorted(maps.Keys(result.Components)) {
				c := result.Components[name]
				fmt.Fprintf(out, "  %-20s %s %s\n", name+":", c.Status, c.Message)
			}
		}

		if !result.IsHealthy() {
			return fmt.Errorf("bus is %s", result.Status)
		}
		return nil
	},
}
