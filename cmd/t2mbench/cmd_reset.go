package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"text2mem/internal/pipeline"
)

var resetRunID string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard a run's checkpoint so its stages regenerate from scratch",
	Long: `Deletes the checkpoint for a run. Stage output files are kept; the next
generate --resume on this run will reprocess every batch and append fresh
lines (downstream stages deduplicate by sample id).`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetRunID, "run", "", "Run id to reset (default: latest)")
}

func runReset(cmd *cobra.Command, args []string) error {
	runID := resetRunID
	if runID == "" {
		var err error
		runID, err = pipeline.LatestRawRun(cfg.DataRoot)
		if err != nil {
			return err
		}
	}
	paths := pipeline.NewRunPaths(cfg.DataRoot, runID)

	path := paths.CheckpointFile()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run %s has no checkpoint", runID)
		}
		return err
	}
	logger.Info("checkpoint removed", zap.String("run", runID), zap.String("path", path))
	return nil
}
