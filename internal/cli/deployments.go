package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "List deployments",
	Long:  `List all deployments the coordinator has placed, with their current status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(GetCoordinatorURL())

		deployments, err := client.ListDeployments()
		if err != nil {
			return fmt.Errorf("failed to list deployments: %w", err)
		}

		if len(deployments) == 0 {
			fmt.Println("No deployments found.")
			return nil
		}

		ids := make([]string, 0, len(deployments))
		for id := range deployments {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprint(w, "ID\tAGENT\tIMAGE\tSTATUS\tCREATED\n")

		for _, id := range ids {
			d := deployments[id]
			_, _ = fmt.Fprintf(
				w, "%s\t%s\t%s\t%s\t%s ago\n",
				id, d.AgentEndpoint, d.ImageTag, d.Status, formatDuration(time.Since(d.CreatedAt)),
			)
		}

		_ = w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deploymentsCmd)
}
