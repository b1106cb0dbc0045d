package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	apiURL  string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "promptloom",
	Short:   "promptloom - load-testing engine for LLM and HTTP endpoints",
	Version: "1.0.0",
	Long: `promptloom drives many simulated users against an LLM or HTTP
endpoint, measures per-stage latency (time to first token, time to
first reasoning token, time to output completion, total time) and
token throughput, and reports aggregate and real-time statistics.

Run a task definition locally, validate one, or start the promptloom
server.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .promptloom.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "promptloom API URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() {
	if cfgFile != "" {
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not get home directory: %v\n", err)
		return
	}

	configPaths := []string{
		".promptloom.yaml",
		home + "/.promptloom.yaml",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			cfgFile = path
			return
		}
	}
}
