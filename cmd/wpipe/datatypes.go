package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wp-labs/wp-open-api/model"
)

func newDataTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datatypes",
		Short: "List the field data types and their aliases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			aliases := make(map[string][]string)
			all := model.Aliases()
			for _, alias := range slices.Sorted(maps.Keys(all)) {
				canonical := all[alias].String()
				aliases[canonical] = append(aliases[canonical], alias)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tALIASES")
			for _, dt := range model.DataTypes() {
				name := dt.String()
				fmt.Fprintf(tw, "%s\t%s\n", name, joinOrDash(aliases[name]))
			}
			fmt.Fprintln(tw, "array/<type>\t-")
			return tw.Flush()
		},
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
