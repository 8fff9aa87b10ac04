package main

import (
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/suteetoe/coursecatalog/internal/partner"
)

func partnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partners",
		Short: "Manage partners",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync [file]",
		Short: "Create or update partners from a YAML file",
		Long: `Create or update partners from a YAML file keyed by short_code.

Partners missing from the file are left untouched. Example:

  partners:
    - short_code: edx
      name: edX
      courses_api_url: https://lms.example.com/api/courses/v1/courses/
      oauth2_provider_url: https://lms.example.com/oauth2
      oauth2_client_id: catalog
      oauth2_client_secret: secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := partner.ParseFile(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			report, err := partner.Sync(cmd.Context(), a.store, f, a.log)
			if err != nil {
				return err
			}
			if len(report.Created) > 0 {
				color.Green("Created: %s", strings.Join(report.Created, ", "))
			}
			if len(report.Updated) > 0 {
				color.Yellow("Updated: %s", strings.Join(report.Updated, ", "))
			}
			return nil
		},
	})
	return cmd
}
