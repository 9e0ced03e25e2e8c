// t2mbench drives the text-to-memory benchmark pipeline: generating
// candidate samples through the three LLM stages, evaluating them against a
// sandboxed engine, and assembling versioned benchmark releases.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"text2mem/internal/config"
	"text2mem/internal/logging"
)

var (
	// Global flags
	cfgPath  string
	dataRoot string
	verbose  bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "t2mbench",
	Short: "Text-to-memory benchmark construction and evaluation",
	Long: `t2mbench builds evaluation data for text-to-memory operation systems.

A benchmark run flows through three stages: natural-language scenario
generation, translation into typed IR programs, and expected-outcome
authoring. Generated samples are then replayed against a sandboxed memory
engine, and the samples that pass evaluation are assembled into a versioned
benchmark release.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; explicit environment always wins
		_ = godotenv.Load()

		zapCfg := zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dataRoot != "" {
			cfg.DataRoot = dataRoot
		}
		return logging.Initialize(cfg.DataRoot, cfg.Logging.DebugMode || verbose, cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dataRoot, "data-root", "", "Override the configured data root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
