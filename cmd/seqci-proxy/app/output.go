package app

import (
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
