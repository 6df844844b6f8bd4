package cmd

import (
	"fmt"
	"ticketwatch/cmd/ticketwatch-cli/utils"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
}

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Start monitoring an event page.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := api.Add(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		if res.Created {
			fmt.Printf("monitoring event %s\n", res.Endpoint.EventID)
			return
		}
		fmt.Printf("event %s is already monitored\n", res.Endpoint.EventID)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored endpoints.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		endpoints, err := api.List(cmd.Context())
		if err != nil {
			fatal(err)
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Event", "Listings", "Changes", "Fetches", "Last checked", "URL"})
		for _, endpoint := range endpoints {
			t.AppendRow(table.Row{
				endpoint.EventID,
				len(endpoint.Tickets),
				len(endpoint.Changes),
				endpoint.Metadata.FetchCount,
				utils.FormatTime(endpoint.LastChecked),
				endpoint.URL,
			})
		}
		t.Render()
	},
}
