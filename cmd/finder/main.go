package main

import (
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "finder",
	Short: "OpportunityFinder API server",
	Long: `finder runs the OpportunityFinder HTTP API: employees post opportunities,
apply to them, and owners accept or reject applicants.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	rootCmd.AddCommand(serveCmd, indexesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
