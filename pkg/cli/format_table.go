// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
)

const (
	tableDisplayTable = "table"
	tableDisplayTSV   = "tsv"
)

// printTable renders rows under cols in the given display format.
func printTable(w io.Writer, displayFormat string, cols []string, rows [][]string) error {
	switch displayFormat {
	case tableDisplayTable:
		// Initialize tablewriter and set column names as the header row.
		table := tablewriter.NewWriter(w)
		table.SetAutoFormatHeaders(false)
		table.SetAutoWrapText(false)
		table.SetHeader(cols)
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintf(w, "(%d row%s)\n", len(rows), plural(len(rows)))
		return nil

	case tableDisplayTSV:
		fmt.Fprintln(w, strings.Join(cols, "\t"))
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return nil

	default:
		return errors.Newf("unknown display format %q", displayFormat)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
