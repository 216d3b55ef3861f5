package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [deployment-id]",
	Short: "Cancel a running deployment",
	Long:  `Request cancellation of a deployment, routed through the coordinator to its owning worker.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deploymentID := args[0]

		client := NewClient(GetCoordinatorURL())
		if err := client.Cancel(deploymentID); err != nil {
			return fmt.Errorf("failed to cancel: %w", err)
		}

		fmt.Printf("Deployment %s cancelled.\n", deploymentID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
