package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/report"
)

var categoriesFormat string

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List forest-change categories with their groups and colors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkFormat(categoriesFormat); err != nil {
			return err
		}
		return writeCategories(os.Stdout, model.CategoryTable(), categoriesFormat)
	},
}

func writeCategories(out io.Writer, table []model.CategoryInfo, format string) error {
	switch format {
	case "json":
		return report.WriteJSON(out, table)
	case "yaml":
		return report.WriteYAML(out, table)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tLABEL\tGROUP\tCOLOR")
	for _, c := range table {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.Code, report.DisplayLabel(c.Label), c.Group, c.Color)
	}
	return w.Flush()
}

func init() {
	categoriesCmd.Flags().StringVar(&categoriesFormat, "format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(categoriesCmd)
}
