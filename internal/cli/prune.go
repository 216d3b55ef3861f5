package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneTTL time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old terminal deployments from the placement map",
	Long:  `Ask the coordinator to drop placements whose terminal status is older than the given TTL (default 1h).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(GetCoordinatorURL())

		removed, err := client.Prune(pruneTTL)
		if err != nil {
			return fmt.Errorf("failed to prune: %w", err)
		}

		fmt.Printf("Removed %d terminal placement(s).\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().DurationVar(&pruneTTL, "ttl", time.Hour, "age of terminal placements to remove")
}
