package cmd

import (
	"fmt"
	"os"
	"ticketwatch/cmd/ticketwatch-cli/client"
	"ticketwatch/lib/restyutil"
	"ticketwatch/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	baseUrl string
	dumpDir string
	api     *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "ticketwatch-cli",
	Short: "ticketwatch-cli is a CLI interface for the ticketwatch monitoring service.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var dump restyutil.Output
		if dumpDir != "" {
			output, err := restyutil.NewFilesystemOutput(dumpDir)
			if err != nil {
				fatal(err)
			}
			dump = output
		}
		api = client.NewClient(baseUrl, dump)
	},
}

func init() {
	defaultUrl, ok := os.LookupEnv("TICKETWATCH_BASE_URL")
	if !ok {
		defaultUrl = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&baseUrl, "server", defaultUrl, "Base url of the ticketwatch service.")
	rootCmd.PersistentFlags().StringVar(&dumpDir, "dump", "", "Write every http exchange into this directory.")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

func Execute() {
	if err := rootCmd.ExecuteContext(serviceutil.SignalContext()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
