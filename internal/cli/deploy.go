package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [bundle]",
	Short: "Upload and deploy a source bundle",
	Long:  `Upload a ZIP bundle to the coordinator, which builds and dispatches it to a worker. The path must name a file; directories are not packed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle := args[0]

		client := NewClient(GetCoordinatorURL())
		result, err := client.Deploy(bundle)
		if err != nil {
			return fmt.Errorf("failed to deploy: %w", err)
		}

		fmt.Fprintf(os.Stdout, "Deployment started:\n")
		fmt.Fprintf(os.Stdout, "  ID:     %s\n", result.DeploymentID)
		fmt.Fprintf(os.Stdout, "  Image:  %s\n", result.Image)
		fmt.Fprintf(os.Stdout, "  Agent:  %s\n", result.Agent)

		if len(result.MappedPorts) > 0 {
			fmt.Fprintf(os.Stdout, "  Ports:\n")
			for port, bindings := range result.MappedPorts {
				for _, b := range bindings {
					fmt.Fprintf(os.Stdout, "    %s -> %s:%s\n", port, b.HostIP, b.HostPort)
				}
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
}
