// Package cli implements deployctl, the operator command-line client for
// the coordinator's HTTP API.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	coordinatorURL string
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "deployctl",
	Short: "deployctl - operator CLI for the deployment fabric",
	Long: `deployctl talks to the coordinator's HTTP API to upload and deploy
code, follow a deployment's logs, cancel it, and inspect the live agent
registry and placement map.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (echoed to stderr; no settings are read from it)")
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator", "http://localhost:5000", "coordinator API URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() {
	if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", cfgFile)
	}

	if envURL := os.Getenv("DEPLOYCTL_COORDINATOR_URL"); envURL != "" && coordinatorURL == "http://localhost:5000" {
		coordinatorURL = envURL
	}
}

// GetCoordinatorURL returns the configured coordinator URL.
func GetCoordinatorURL() string {
	return coordinatorURL
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
