package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs [deployment-id]",
	Short: "Fetch container logs for a deployment",
	Long:  `Fetch and display the current log buffer for a deployment, routed through the coordinator to its owning worker.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deploymentID := args[0]

		client := NewClient(GetCoordinatorURL())
		result, err := client.Logs(deploymentID)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		if IsVerbose() {
			fmt.Printf("status: %s\n", result.Status)
		}
		fmt.Print(result.Logs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
