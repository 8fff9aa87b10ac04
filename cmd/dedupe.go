package main

import (
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/suteetoe/coursecatalog/internal/dedupe"
)

func dedupePersonCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "dedupe-person",
		Short: "Merge a duplicate person into the person that replaces it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			res, err := dedupe.NewMerger(a.store, a.log).MergePeople(cmd.Context(), "dedupe-person", from, to)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Relation", "Moved"})
			table.Append([]string{"course run staff", strconv.Itoa(res.Staff)})
			table.Append([]string{"program instructors", strconv.Itoa(res.Instructors)})
			table.Append([]string{"endorsements", strconv.Itoa(res.Endorsements)})
			table.Append([]string{"social networks", strconv.Itoa(res.SocialNetworks)})
			table.Append([]string{"areas of expertise", strconv.Itoa(res.Expertise)})
			table.Append([]string{"position", strconv.FormatBool(res.Position)})
			table.Render()
			color.Green("Merged %s into %s", res.From, res.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "UUID of the duplicate person")
	cmd.Flags().StringVar(&to, "to", "", "UUID of the person to keep")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
