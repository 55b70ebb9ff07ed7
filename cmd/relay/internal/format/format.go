// Package format renders CLI output.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Olgitta/kirk-ws/internal/patterns"
)

// PatternsTable writes entries as an aligned table.
func PatternsTable(w io.Writer, entries []patterns.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "PATTERN\tEVENT")
	fmt.Fprintln(tw, "-------\t-----")
	if len(entries) == 0 {
		fmt.Fprintln(tw, "No patterns defined")
	}
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", e.Pattern, e.Event)
	}
	return tw.Flush()
}

// PatternsJSON writes entries as indented JSON with a count.
func PatternsJSON(w io.Writer, entries []patterns.Entry) error {
	if entries == nil {
		entries = []patterns.Entry{}
	}
	output := struct {
		Patterns []patterns.Entry `json:"patterns"`
		Count    int              `json:"count"`
	}{
		Patterns: entries,
		Count:    len(entries),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
