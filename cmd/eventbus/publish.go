package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rbaliyan/eventbus"
	"github.com/spf13/cobra"
)

type publishFlags struct {
	source        string
	org           string
	project       string
	user          string
	correlationID string
	contentType   string
	metadata      map[string]string
}

var pubFlags publishFlags

var publishCmd = &cobra.Command{
	Use:   "publish <event-type> [payload|-]",
	Short: "Publish an event",
	Long: `Publish an event to "<source>.<event-type>".

The payload is taken from the second argument, or from stdin when it is "-".
JSON payloads are checked for validity when the content type is JSON.`,
	Example: `  eventbus publish document.created '{"id":"doc-1"}' --source verity --org org-1
  echo '{"id":"m1"}' | eventbus publish meeting.started - --source noteman`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		if len(args) == 2 {
			if args[1] == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				data = b
			} else {
				data = []byte(args[1])
			}
		}

		source := pubFlags.source
		if source == "" {
			source = cfg.Source
		}
		ev, err := buildEvent(source, args[0], data, pubFlags)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := be.bus.Publish(ctx, ev); err != nil {
			return err
		}

		if jsonOutput {
			return printEvent(cmd.OutOrStdout(), ev)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %s (%s)\n", ev.Topic(), ev.ID())
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&pubFlags.source, "source", "", "source application (default EVENTBUS_SOURCE)")
	publishCmd.Flags().StringVar(&pubFlags.org, "org", "", "organization ID")
	publishCmd.Flags().StringVar(&pubFlags.project, "project", "", "project ID")
	publishCmd.Flags().StringVar(&pubFlags.user, "user", "", "user ID")
	publishCmd.Flags().StringVar(&pubFlags.correlationID, "correlation-id", "", "correlation ID")
	publishCmd.Flags().StringVar(&pubFlags.contentType, "content-type", "application/json", "payload content type")
	publishCmd.Flags().StringToStringVar(&pubFlags.metadata, "meta", nil, "metadata key=value pairs")
}

// buildEvent validates the payload and assembles the event from flags.
func buildEvent(source, eventType string, data []byte, f publishFlags) (eventbus.Event, error) {
	if len(data) > 0 && f.contentType == "application/json" && !json.Valid(data) {
		return eventbus.Event{}, fmt.Errorf("payload is not valid JSON")
	}

	opts := []eventbus.EventOption{eventbus.WithContentType(f.contentType)}
	if f.org != "" {
		opts = append(opts, eventbus.WithOrg(f.org))
	}
	if f.project != "" {
		opts = append(opts, eventbus.WithProject(f.project))
	}
	if f.user != "" {
		opts = append(opts, eventbus.WithUser(f.user))
	}
	if f.correlationID != "" {
		opts = append(opts, eventbus.WithCorrelationID(f.correlationID))
	}
	for k, v := range f.metadata {
		opts = append(opts, eventbus.WithMetadata(k, v))
	}
	return eventbus.New(source, eventType, data, opts...), nil
}
