package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"charter/api/internal/catalog"
	"charter/api/internal/completion"
	"charter/api/internal/config"
	"charter/api/internal/response"
	"charter/api/internal/store"
)

type reportRow struct {
	UserID      string           `json:"userId"`
	DisplayName string           `json:"displayName"`
	FamilyName  string           `json:"familyName"`
	Overall     completion.Stats `json:"overall"`
	Incomplete  []string         `json:"incompleteSections"`
}

// participantSource is the part of the store the report reads.
type participantSource interface {
	ListParticipants(ctx context.Context) ([]store.Participant, error)
	FetchAllResponses(ctx context.Context, userID string) (response.Sections, error)
}

func newReportCmd(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise every participant's completion from saved answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := buildReport(ctx, store.NewPostgresStore(db), catalog.Default())
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), rows, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func buildReport(ctx context.Context, src participantSource, cat *catalog.Catalog) ([]reportRow, error) {
	participants, err := src.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	rows := make([]reportRow, 0, len(participants))
	for _, participant := range participants {
		sections, err := src.FetchAllResponses(ctx, participant.User.ID)
		if err != nil {
			return nil, fmt.Errorf("responses for %s: %w", participant.User.ID, err)
		}
		summary := completion.Breakdown(sections, cat)
		row := reportRow{
			UserID:      participant.User.ID,
			DisplayName: participant.User.DisplayName,
			Overall:     summary.Overall,
			Incomplete:  []string{},
		}
		if participant.Profile != nil {
			row.FamilyName = participant.Profile.FamilyName
		}
		for _, section := range summary.Sections {
			if !section.Complete {
				row.Incomplete = append(row.Incomplete, string(section.ID))
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeReport(out io.Writer, rows []reportRow, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tNAME\tFAMILY\tANSWERED\tPERCENT")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d%%\n",
			row.UserID, row.DisplayName, row.FamilyName,
			row.Overall.Completed, row.Overall.Total, row.Overall.Percentage)
	}
	return tw.Flush()
}
