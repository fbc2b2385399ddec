// deep-label labels every object in a single large image by orchestrating an
// iterative detect-verify-dedup-score pipeline over a multimodal inference
// service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/derekphilipau/deep-label/internal/config"
	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/logger"
	"github.com/derekphilipau/deep-label/internal/run"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		outputDir  string
		logLevel   string
		multiScale bool
	)

	cmd := &cobra.Command{
		Use:   "deep-label <image>",
		Short: "Exhaustively detect, verify and rank objects in an image",
		Long: `deep-label drives an iterative multi-scale detection workflow over one
image: it discovers which object kinds are present, detects each kind with
adaptive spatial subdivision, audits the boxes through numbered-overlay
verification rounds, collapses duplicates across tiles and kinds, and writes
a ranked result payload.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("multi-scale") {
				cfg.Labeler.Discovery.MultiScale = multiScale
			}
			if cmd.Flags().Changed("output") {
				cfg.Labeler.OutputDir = outputDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logger.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			apiKey := cfg.APIKey()
			if apiKey == "" {
				return fmt.Errorf("no API key: set %s", cfg.Labeler.Inference.APIKeyEnv)
			}
			caller := inference.New(inference.Config{
				Endpoint: cfg.Labeler.Inference.Endpoint,
				Model:    cfg.Labeler.Inference.Model,
				APIKey:   apiKey,
				Timeout:  cfg.Labeler.Inference.Timeout,
			}, log.Named("inference"))

			runner := run.New(cfg, caller, log)
			result, err := runner.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			path, err := run.WritePayload(result, cfg.Labeler.OutputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "labeled %d instances across %d kinds -> %s\n",
				len(result.Instances), len(result.Kinds), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "./output", "directory for the result payload")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&multiScale, "multi-scale", false, "discover kinds at full-image and quadrant scale")
	return cmd
}
