package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"text2mem/internal/evaluator"
	"text2mem/internal/pipeline"
	"text2mem/internal/provider"
)

var (
	testRunID   string
	testFilters []string
	testStrict  bool
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Evaluate generated samples against a sandboxed engine",
	Long: `Replays each sample's IR program in a fresh sandboxed store, then checks
the sample's assertions, retrieval ranking, and time triggers.

Samples can be narrowed with repeated --filter key:value flags; keys are
lang, op, instruction and structure, for example --filter lang:en
--filter op:Encode.`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVar(&testRunID, "run", "", "Run id to evaluate (default: latest)")
	testCmd.Flags().StringArrayVarP(&testFilters, "filter", "f", nil, "Restrict samples (key:value, repeatable)")
	testCmd.Flags().BoolVar(&testStrict, "strict-ranking", false, "Fail ranking misses even under mock embeddings")
}

func runTest(cmd *cobra.Command, args []string) error {
	runID := testRunID
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
	if len(samples) == 0 {
		return fmt.Errorf("run %s has no samples to evaluate", runID)
	}

	filter, err := parseFilters(testFilters)
	if err != nil {
		return err
	}

	embedder, err := provider.NewEmbeddingProvider(cfg)
	if err != nil {
		return err
	}
	generator, err := provider.NewGenerationProvider(cfg)
	if err != nil {
		return err
	}
	if err := checkProviderHealth(cmd.Context(), "embedding", embedder); err != nil {
		return err
	}
	if err := checkProviderHealth(cmd.Context(), "generation", generator); err != nil {
		return err
	}
	if testStrict {
		cfg.Evaluator.RankingStrictMock = true
	}

	runner := evaluator.NewRunner(cfg, embedder, generator)
	runner.Filter = filter

	logger.Info("evaluating",
		zap.String("run", runID),
		zap.Int("samples", len(samples)),
		zap.String("embedder", embedder.Name()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := runner.RunSamples(ctx, samples, paths.TestsDir())
	if err != nil {
		return err
	}

	logger.Info("evaluation complete",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Float64("pass_rate", summary.PassRate),
		zap.String("report", paths.TestsDir()))
	return nil
}
