package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"text2mem/internal/pipeline"
	"text2mem/internal/provider"
)

var (
	genPlanPath string
	genRunID    string
	genResume   bool
	genAsync    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the three-stage sample generation pipeline",
	Long: `Generates benchmark sample candidates from a plan file.

Progress is checkpointed after every batch, so an interrupted run can be
picked up with --resume. Raw stage output lands under {data_root}/raw/{run}.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genPlanPath, "plan", "p", "", "Plan file (YAML, required)")
	generateCmd.Flags().StringVar(&genRunID, "run", "", "Run id (default: new timestamped id, or latest with --resume)")
	generateCmd.Flags().BoolVar(&genResume, "resume", false, "Resume an interrupted run from its checkpoint")
	generateCmd.Flags().BoolVar(&genAsync, "async", false, "Run batches concurrently")
	_ = generateCmd.MarkFlagRequired("plan")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	plan, err := pipeline.LoadPlan(genPlanPath)
	if err != nil {
		return err
	}

	runID := genRunID
	if genResume && runID == "" {
		runID, err = pipeline.LatestRawRun(cfg.DataRoot)
		if err != nil {
			return fmt.Errorf("--resume with no run id: %w", err)
		}
	}
	paths := pipeline.NewRunPaths(cfg.DataRoot, runID)

	gen, err := provider.NewGenerationProvider(cfg)
	if err != nil {
		return err
	}
	if err := checkProviderHealth(cmd.Context(), "generation", gen); err != nil {
		return err
	}
	if genAsync {
		cfg.Pipeline.UseAsync = true
	}

	logger.Info("starting generation",
		zap.String("run", paths.RunID),
		zap.String("plan", plan.Name),
		zap.Int("total_samples", plan.TotalSamples),
		zap.String("provider", gen.Name()),
		zap.Bool("resume", genResume),
		zap.Bool("async", cfg.Pipeline.UseAsync))

	ctl, err := pipeline.NewController(cfg, plan, gen, paths, genResume)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctl.Run(ctx); err != nil {
		return fmt.Errorf("generation interrupted (resume with --resume --run %s): %w", paths.RunID, err)
	}

	cp := ctl.Checkpoint()
	logger.Info("generation complete",
		zap.String("run", paths.RunID),
		zap.Int("samples", cp.StageStatus(3).CompletedBatches),
		zap.Int("errors", len(cp.Errors)),
		zap.String("output", paths.StageFile(3)))
	return nil
}
