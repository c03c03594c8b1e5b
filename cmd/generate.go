// File: cmd/generate.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
	"github.com/arnonsang/shadow-ua-sub000/internal/observability"
)

func newGenerateCmd() *cobra.Command {
	var (
		count      int
		browser    string
		platform   string
		device     string
		minVersion int
		asJSON     bool
		archive    bool

		concurrency   int
		chunkSize     int
		maxPerSecond  int
		burstSize     int
		noCache       bool
		noValidation  bool
		noFingerprint bool
		uniqueStats   bool
	)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a batch of synthetic browser identities",
		Long: `Runs the batch generation engine once: produces the requested number of
identities honoring the filter flags, prints the user-agent strings (or the
full batch as JSON with --json), and optionally archives the batch to
PostgreSQL with --archive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := newComponents(ctx, componentOptions{
				withEngine: true,
				withStore:  archive,
			})
			if err != nil {
				return err
			}
			defer components.Shutdown()

			filter := &schemas.IdentityFilter{
				Browser:    schemas.Browser(browser),
				Platform:   schemas.Platform(platform),
				DeviceType: schemas.DeviceType(device),
				MinVersion: minVersion,
			}

			opts := components.Engine.DefaultOptions()
			if cmd.Flags().Changed("concurrency") {
				opts.Concurrency = concurrency
			}
			if cmd.Flags().Changed("chunk-size") {
				opts.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("rate") {
				opts.MaxPerSecond = maxPerSecond
			}
			if cmd.Flags().Changed("burst") {
				opts.BurstSize = burstSize
			}
			if noCache {
				opts.EnableCache = false
			}
			if noValidation {
				opts.EnableValidation = false
			}
			if noFingerprint {
				opts.EnableFingerprint = false
			}
			if uniqueStats {
				opts.UniqueStats = true
			}

			batchResult, err := components.Engine.Generate(ctx, count, filter, &opts)
			if err != nil {
				return fmt.Errorf("batch generation failed: %w", err)
			}

			for _, batchErr := range batchResult.Errors {
				logger.Warn("Item failed",
					zap.Int("index", batchErr.Index),
					zap.String("kind", string(batchErr.Kind)),
					zap.String("message", batchErr.Message),
				)
			}

			if archive && components.Store != nil {
				if err := components.Store.ArchiveBatch(ctx, batchResult); err != nil {
					return fmt.Errorf("failed to archive batch: %w", err)
				}
				logger.Info("Batch archived", zap.String("batch_id", batchResult.BatchID))
			}

			if asJSON {
				out, err := json.MarshalIndent(batchResult, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to serialize batch to JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			for _, result := range batchResult.Results {
				fmt.Println(result.Identity.UserAgent)
			}
			return nil
		},
	}

	generateCmd.Flags().IntVarP(&count, "count", "n", 10, "number of identities to generate")
	generateCmd.Flags().StringVar(&browser, "browser", "", "restrict to one browser (chrome, firefox, safari, edge)")
	generateCmd.Flags().StringVar(&platform, "platform", "", "restrict to one platform (windows, macos, linux, android, ios)")
	generateCmd.Flags().StringVar(&device, "device", "", "restrict to one device type (desktop, mobile, tablet)")
	generateCmd.Flags().IntVar(&minVersion, "min-version", 0, "minimum major browser version")
	generateCmd.Flags().BoolVar(&asJSON, "json", false, "print the full batch result as JSON")
	generateCmd.Flags().BoolVar(&archive, "archive", false, "archive the batch to PostgreSQL")

	generateCmd.Flags().IntVar(&concurrency, "concurrency", 0, "override batch.concurrency for this run")
	generateCmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "override batch.chunk_size for this run")
	generateCmd.Flags().IntVar(&maxPerSecond, "rate", 0, "override batch.max_per_second for this run (0 disables limiting)")
	generateCmd.Flags().IntVar(&burstSize, "burst", 0, "override batch.burst_size for this run")
	generateCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable result caching for this run")
	generateCmd.Flags().BoolVar(&noValidation, "no-validation", false, "disable identity validation for this run")
	generateCmd.Flags().BoolVar(&noFingerprint, "no-fingerprint", false, "skip fingerprint attachment for this run")
	generateCmd.Flags().BoolVar(&uniqueStats, "unique", false, "count distinct user agents in the batch stats")

	return generateCmd
}
