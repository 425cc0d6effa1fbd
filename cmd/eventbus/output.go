package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/rbaliyan/eventbus"
)

// printEvent writes ev as one JSON line or a short text line.
func printEvent(w io.Writer, ev eventbus.Event) error {
	if jsonOutput {
		data, err := eventbus.JSONCodec{}.Encode(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, formatEvent(ev))
	return err
}

func formatEvent(ev eventbus.Event) string {
	line := fmt.Sprintf("%s  %-40s  %s", ev.Timestamp().Format("2006-01-02 15:04:05.000"), ev.Topic(), ev.ID())
	if ev.OrgID() != "" {
		line += "  org=" + ev.OrgID()
	}
	if ev.CorrelationID() != "" {
		line += "  corr=" + ev.CorrelationID()
	}
	md := ev.Metadata()
	for _, k := range slices.Sorted(maps.Keys(md)) {
		line += fmt.Sprintf("  %s=%s", k, md[k])
	}
	if p := ev.Payload(); len(p) > 0 {
		if json.Valid(p) {
			line += "  " + string(p)
		} else {
			line += fmt.Sprintf("  <%d bytes>", len(p))
		}
	}
	return line
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
