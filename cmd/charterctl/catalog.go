package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"charter/api/internal/catalog"
)

func newCatalogCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the charter sections and questions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printCatalog(cmd, catalog.Default(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printCatalog(cmd *cobra.Command, cat *catalog.Catalog, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cat.Sections())
	}
	for _, section := range cat.Sections() {
		fmt.Fprintf(out, "%s  %s\n", section.ID, section.Title)
		for _, question := range section.Questions {
			fmt.Fprintf(out, "  %-3s %s\n", question.ID, question.Prompt)
		}
	}
	fmt.Fprintf(out, "%d questions\n", cat.TotalQuestions())
	return nil
}
