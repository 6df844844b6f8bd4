package cmd

import (
	"fmt"
	"ticketwatch/internal/broadcast"

	"github.com/spf13/cobra"
)

var watchChanges bool

func init() {
	watchCmd.Flags().BoolVar(&watchChanges, "changes", false, "Only print change batches instead of every fetch result.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <event id>",
	Short: "Stream the results published for an event.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := api.Watch(cmd.Context(), args[0], watchChanges, func(msg broadcast.Message) {
			fmt.Printf("[%s] %s\n", msg.Topic, string(msg.Payload))
		})
		if err != nil {
			fatal(err)
		}
	},
}
