// File: cmd/stats.go
package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
	"github.com/arnonsang/shadow-ua-sub000/internal/config"
)

// statsOutput is the JSON document the stats command emits.
type statsOutput struct {
	Metrics schemas.PoolMetrics   `json:"metrics"`
	Pattern schemas.PatternReport `json:"pattern"`
	Nodes   []schemas.Node        `json:"nodes,omitempty"`
	Batches []schemas.BatchRecord `json:"batches,omitempty"`
}

func newStatsCmd() *cobra.Command {
	var (
		asJSON    bool
		withNodes bool
		batches   int
	)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool metrics and per-node state",
		Long: `Builds the node pool (restoring a persisted snapshot when pool.snapshot_enabled
is set) and prints its metrics plus the per-node usage and health counters.
With --batches N the most recent archived batch summaries are listed as well.
Against a persisted pool this inspects the state accumulated by earlier runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()

			components, err := newComponents(ctx, componentOptions{
				withPool:  true,
				withStore: cfg.Pool.SnapshotEnabled || batches > 0,
			})
			if err != nil {
				return err
			}
			defer components.Shutdown()

			out := statsOutput{
				Metrics: components.Pool.Metrics(),
				Pattern: components.Pacer.AnalyzeRequestPattern(),
			}
			if withNodes {
				out.Nodes = components.Pool.Nodes()
			}
			if batches > 0 {
				records, err := components.Store.ListBatches(ctx, batches)
				if err != nil {
					return fmt.Errorf("failed to list archived batches: %w", err)
				}
				out.Batches = records
			}

			if asJSON {
				doc, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to serialize stats to JSON: %w", err)
				}
				fmt.Println(string(doc))
				return nil
			}

			fmt.Printf("requests: %d  successes: %d  failures: %d  active: %d  avg_rt: %s  rps: %.2f\n",
				out.Metrics.TotalRequests, out.Metrics.Successes, out.Metrics.Failures,
				out.Metrics.ActiveNodes, out.Metrics.AvgResponseTime.Truncate(time.Millisecond),
				out.Metrics.RequestsPerSecond)
			fmt.Printf("pattern: score=%.2f robotic=%t samples=%d\n",
				out.Pattern.Score, out.Pattern.Robotic, out.Pattern.SampleSize)

			if withNodes {
				fmt.Printf("\n%-10s %-8s %-8s %-10s %5s %5s %6s %-7s %s\n",
					"ID", "BROWSER", "PLATFORM", "REGION", "REQS", "ERRS", "SR", "ACTIVE", "COOLDOWN")
				now := time.Now()
				for _, node := range out.Nodes {
					cooldown := "-"
					if node.CooldownUntil.After(now) {
						cooldown = node.CooldownUntil.Sub(now).Truncate(time.Second).String()
					}
					fmt.Printf("%-10s %-8s %-8s %-10s %5d %5d %6.2f %-7t %s\n",
						shortID(node.ID), node.Identity.Browser, node.Identity.Platform,
						node.Region, node.RequestCount, node.ErrorCount,
						node.SuccessRate, node.Active, cooldown)
				}
			}

			if len(out.Batches) > 0 {
				fmt.Printf("\n%-38s %6s %6s %6s %10s %7s\n",
					"BATCH", "REQ", "OK", "FAIL", "TOTAL_MS", "UNIQUE")
				for _, rec := range out.Batches {
					fmt.Printf("%-38s %6d %6d %6d %10d %7d\n",
						rec.ID, rec.Requested, rec.Succeeded, rec.Failed,
						rec.TotalTimeMS, rec.UniqueIdentities)
				}
			}
			return nil
		},
	}

	statsCmd.Flags().BoolVar(&asJSON, "json", false, "print metrics and nodes as JSON")
	statsCmd.Flags().BoolVar(&withNodes, "nodes", true, "include the per-node table")
	statsCmd.Flags().IntVar(&batches, "batches", 0, "list the N most recent archived batches")

	return statsCmd
}
