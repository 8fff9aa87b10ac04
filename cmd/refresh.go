package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/suteetoe/coursecatalog/internal/ingest"
)

func refreshCmd() *cobra.Command {
	var partnerCode string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh catalog metadata from the partners' upstream APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			var results map[string][]*ingest.Summary
			var runErr error
			if partnerCode != "" {
				p, err := a.store.PartnerByShortCode(partnerCode)
				if err != nil {
					return err
				}
				summaries, err := a.pipeline.Run(cmd.Context(), p)
				results, runErr = map[string][]*ingest.Summary{p.ShortCode: summaries}, err
			} else {
				results, runErr = a.pipeline.RunAll(cmd.Context())
			}

			printSummaries(results)
			if runErr != nil {
				color.Red("Refresh finished with errors:\n%v", runErr)
				return fmt.Errorf("refresh failed")
			}
			color.Green("Refresh finished")
			return nil
		},
	}
	cmd.Flags().StringVarP(&partnerCode, "partner", "p", "", "refresh a single partner by short code")
	return cmd
}

func printSummaries(results map[string][]*ingest.Summary) {
	codes := make([]string, 0, len(results))
	for code := range results {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Partner", "Loader", "Pages", "Records", "Failed", "Skipped", "Deleted", "Swept", "Duration"})
	for _, code := range codes {
		for _, s := range results[code] {
			if s == nil {
				continue
			}
			table.Append([]string{
				code,
				s.Loader,
				strconv.Itoa(s.Pages),
				strconv.Itoa(s.Records),
				strconv.Itoa(s.Failed),
				strconv.Itoa(s.Skipped),
				strconv.Itoa(s.Deleted),
				strconv.FormatBool(s.Swept),
				s.Duration.String(),
			})
		}
	}
	table.Render()
}
