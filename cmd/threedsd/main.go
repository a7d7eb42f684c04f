package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "threedsd",
	Short:             "3DS challenge orchestrator",
	Long:              `Runs 3-D Secure authentication for checkouts, natively through an SDK or as a web challenge, and answers brand lookups.`,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewBrandCmd())
	rootCmd.AddCommand(NewKlarnaCountryCmd())
}
