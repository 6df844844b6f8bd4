package cmd

import (
	"fmt"
	"ticketwatch/cmd/ticketwatch-cli/utils"
	"ticketwatch/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(changesCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch an event page now and print its listings.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := api.Fetch(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}

		result := res.Result
		if !result.OK() {
			reason := "unknown"
			if result.Failure != nil {
				reason = fmt.Sprintf("%s: %s", result.Failure.Kind, result.Failure.Reason)
			}
			fatal(fmt.Errorf("fetch of event %s failed (%s)", result.EventID, reason))
		}

		source := "fresh"
		if res.Cached {
			source = "cached"
		}
		fmt.Printf("event %s, %d listings (%s)\n", result.EventID, len(result.Tickets), source)

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Section / Row", "Price", "Type"})
		for _, ticket := range result.Tickets {
			t.AppendRow(table.Row{ticket.SectionRow, ticket.Price, ticket.Type})
		}
		t.Render()

		if len(res.Changes) > 0 {
			renderChanges(res.Changes)
		}
	},
}

var changesCmd = &cobra.Command{
	Use:   "changes <event id>",
	Short: "Print the change log of a monitored event.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		changes, err := api.Changes(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		renderChanges(changes)
	},
}

func renderChanges(changes []models.ChangeEvent) {
	t := utils.NewTable()
	t.AppendHeader(table.Row{"Time", "Type", "Section / Row", "Old", "New"})
	for _, change := range changes {
		d := change.Details
		newPrice := d.NewPrice
		if change.Type == models.NewSection {
			newPrice = d.Price
		}
		t.AppendRow(table.Row{
			utils.FormatTime(&change.Timestamp),
			change.Type,
			d.SectionRow,
			d.OldPrice,
			newPrice,
		})
	}
	t.Render()
}
