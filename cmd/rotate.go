// File: cmd/rotate.go
package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/internal/config"
	"github.com/arnonsang/shadow-ua-sub000/internal/observability"
	"github.com/arnonsang/shadow-ua-sub000/internal/pacing"
)

func newRotateCmd() *cobra.Command {
	var (
		count    int
		strategy string
		asJSON   bool
		spacing  bool
		report   bool
	)

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Draw identities from the node pool",
		Long: `Builds the node pool (restoring a persisted snapshot when pool.snapshot_enabled
is set) and draws the requested number of selections through the configured
strategy. With --spacing each draw honors the recommended delay of the previous
one; --report feeds a success back per draw so the pool's health bookkeeping
advances.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			if strategy != "" {
				cfg.Pool.Strategy = strategy
			}

			components, err := newComponents(ctx, componentOptions{
				withPool:  true,
				withStore: cfg.Pool.SnapshotEnabled,
			})
			if err != nil {
				return err
			}
			defer components.Shutdown()

			lastDrawAt := time.Now()
			for i := 0; i < count; i++ {
				sel, err := components.Pool.GetNextNode(ctx)
				if err != nil {
					return fmt.Errorf("node selection failed after %d draws: %w", i, err)
				}

				// Timing follows the active identity. The interval history is
				// what the stealth strategy's pattern analysis reads.
				components.Pacer.SetProfile(sel.Node.Identity.Browser, sel.Node.Identity.Platform)
				now := time.Now()
				components.Pacer.RecordInterval(now.Sub(lastDrawAt))
				lastDrawAt = now

				if asJSON {
					out, err := json.Marshal(sel)
					if err != nil {
						return fmt.Errorf("failed to serialize selection to JSON: %w", err)
					}
					fmt.Println(string(out))
				} else {
					fmt.Printf("%-10s %-8s %-10s delay=%-8s confidence=%.2f %s\n",
						shortID(sel.Node.ID), sel.Node.Identity.Browser, sel.Node.Region,
						sel.RecommendedDelay.Truncate(time.Millisecond), sel.Confidence,
						sel.Node.Identity.UserAgent)
				}

				if sel.Metadata.EmergencyRotation {
					logger.Warn("Selection required an emergency rotation", zap.Int("draw", i))
				}

				if report {
					if err := components.Pool.ReportResult(sel.Node.ID, true, sel.RecommendedDelay); err != nil {
						logger.Warn("Failed to report result", zap.Error(err))
					}
				}

				if spacing && i < count-1 {
					if err := pacing.Wait(ctx, sel.RecommendedDelay); err != nil {
						return err
					}
				}
			}

			metrics := components.Pool.Metrics()
			logger.Info("Rotation complete",
				zap.Int("draws", count),
				zap.Int64("total_requests", metrics.TotalRequests),
				zap.Int("active_nodes", metrics.ActiveNodes),
			)
			return nil
		},
	}

	rotateCmd.Flags().IntVarP(&count, "count", "n", 10, "number of selections to draw")
	rotateCmd.Flags().StringVar(&strategy, "strategy", "", "override pool.strategy (round-robin, weighted, adaptive, geographic, burst-control, stealth)")
	rotateCmd.Flags().BoolVar(&asJSON, "json", false, "print each selection as a JSON line")
	rotateCmd.Flags().BoolVar(&spacing, "spacing", false, "sleep the recommended delay between draws")
	rotateCmd.Flags().BoolVar(&report, "report", false, "report each draw back as a success")

	return rotateCmd
}

// shortID trims a uuid for column display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
