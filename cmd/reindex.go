package main

import (
	"os"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/suteetoe/coursecatalog/internal/search"
)

func reindexCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := search.NewReindexer(a.db, a.backend, batchSize, a.log).Run(cmd.Context())
			if err != nil {
				return err
			}

			types := make([]string, 0, len(summary))
			for t := range summary {
				types = append(types, t)
			}
			sort.Strings(types)
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Content type", "Documents"})
			for _, t := range types {
				table.Append([]string{t, strconv.Itoa(summary[t])})
			}
			table.Render()
			color.Green("Indexed into %s backend", a.backend.Name())
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "rows read per batch")
	return cmd
}
