package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"text2mem/internal/benchmark"
	"text2mem/internal/pipeline"
)

var (
	buildRunID   string
	buildVersion string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Assemble a benchmark release from evaluated samples",
	Long: `Collects the samples that passed evaluation, drops malformed
classifications, renumbers ids canonically, and writes a versioned release
under {data_root}/benchmarks. The latest symlink is repointed at the new
version.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildRunID, "run", "", "Run id to build from (default: latest)")
	buildCmd.Flags().StringVar(&buildVersion, "version", "", "Release version label (default: timestamped)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	runID := buildRunID
	if runID == "" {
		var err error
		runID, err = pipeline.LatestRawRun(cfg.DataRoot)
		if err != nil {
			return err
		}
	}
	paths := pipeline.NewRunPaths(cfg.DataRoot, runID)

	samples, err := pipeline.LoadSamples(paths.StageFile(3))
	if err != nil {
		return err
	}
	passed, err := benchmark.LoadPassedIDs(paths.TestsDir())
	if err != nil {
		return err
	}

	stats, err := benchmark.NewBuilder(cfg.DataRoot).Build(samples, passed, buildVersion)
	if err != nil {
		return err
	}

	logger.Info("benchmark built",
		zap.String("version", stats.Version),
		zap.Int("kept", stats.Kept),
		zap.Int("dropped_failed", stats.DroppedFail),
		zap.Int("dropped_malformed", stats.DroppedBad))
	return nil
}
