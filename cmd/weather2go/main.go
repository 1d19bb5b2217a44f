// Command weather2go serves and queries Michigan driving-risk predictions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	// version is set at build time with -ldflags "-X main.version=...".
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "weather2go",
	Short: "Forecast-driven road risk for Michigan",
	Long: `weather2go turns an hourly weather forecast for a Michigan place into a
driving-risk bucket using a trained classifier. Run "serve" for the HTTP API,
or "search", "predict" and "manual" for one-off queries.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config/$ENV_NAME.yaml)")
	rootCmd.AddCommand(serveCmd, searchCmd, predictCmd, manualCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
