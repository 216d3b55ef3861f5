package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List worker agents",
	Long:  `List all agents currently present in the coordinator's live registry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(GetCoordinatorURL())

		agents, err := client.ListAgents()
		if err != nil {
			return fmt.Errorf("failed to list agents: %w", err)
		}

		if len(agents) == 0 {
			fmt.Println("No agents registered.")
			return nil
		}

		ids := make([]string, 0, len(agents))
		for id := range agents {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprint(w, "ID\tENDPOINT\tSTATE\tCPU\tMEMORY\tREPUTATION\tLAST HEARTBEAT\n")

		for _, id := range ids {
			a := agents[id]
			_, _ = fmt.Fprintf(
				w, "%s\t%s\t%s\t%.1f%%\t%.1f%%\t%d\t%s ago\n",
				a.AgentID, a.Endpoint, a.State, a.CPUPercent, a.MemoryPercent, a.Reputation,
				formatDuration(time.Since(a.LastSeen)),
			)
		}

		_ = w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}
