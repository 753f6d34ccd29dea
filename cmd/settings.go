package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coal/ddosguard/internal/settings"
)

var (
	thresholdsFile string
	critical       float64
	high           float64
	medium         float64

	adaptiveFile   string
	adaptiveOn     bool
	autoBlock      bool
	rateLimiting   bool
	trafficShaping bool
	strategy       string
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Submit alert thresholds to the backend",
	Long: `Submit packet-rate alert thresholds. Values come from --critical, --high
and --medium, or from the thresholds section of a settings file (-f).
Thresholds must satisfy critical >= high >= medium > 0; invalid values
are rejected locally and never sent.`,
	RunE: runThresholds,
}

var adaptiveCmd = &cobra.Command{
	Use:   "adaptive",
	Short: "Submit the adaptive-response configuration to the backend",
	Long: `Submit the adaptive-response configuration from flags, or from the
adaptive_response section of a settings file (-f).`,
	RunE: runAdaptive,
}

func init() {
	def := settings.DefaultThresholds()
	thresholdsCmd.Flags().StringVarP(&thresholdsFile, "file", "f", "", "Settings YAML file")
	thresholdsCmd.Flags().Float64Var(&critical, "critical", def.Critical, "Critical packets/s threshold")
	thresholdsCmd.Flags().Float64Var(&high, "high", def.High, "High packets/s threshold")
	thresholdsCmd.Flags().Float64Var(&medium, "medium", def.Medium, "Medium packets/s threshold")

	adaptiveCmd.Flags().StringVarP(&adaptiveFile, "file", "f", "", "Settings YAML file")
	adaptiveCmd.Flags().BoolVar(&adaptiveOn, "enabled", true, "Enable adaptive response")
	adaptiveCmd.Flags().BoolVar(&autoBlock, "auto-block", true, "Automatically block attack sources")
	adaptiveCmd.Flags().BoolVar(&rateLimiting, "rate-limiting", true, "Apply rate limiting")
	adaptiveCmd.Flags().BoolVar(&trafficShaping, "traffic-shaping", false, "Apply traffic shaping")
	adaptiveCmd.Flags().StringVar(&strategy, "strategy", string(settings.StrategyAdaptive), "Mitigation strategy (adaptive, aggressive, conservative)")
}

func runThresholds(cmd *cobra.Command, args []string) error {
	t := settings.AlertThresholds{Critical: critical, High: high, Medium: medium}
	if thresholdsFile != "" {
		f, err := settings.LoadFile(thresholdsFile)
		if err != nil {
			return err
		}
		if f.Thresholds == nil {
			return fmt.Errorf("%s has no thresholds section", thresholdsFile)
		}
		t = *f.Thresholds
	}
	if err := t.Validate(); err != nil {
		return err
	}

	cfg, gw, err := setupGateway("thresholds")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	defer cancel()

	if err := gw.SubmitThresholds(ctx, t); err != nil {
		return fmt.Errorf("submitting thresholds: %w", err)
	}
	cmd.Printf("thresholds updated: critical=%g high=%g medium=%g\n", t.Critical, t.High, t.Medium)
	return nil
}

func runAdaptive(cmd *cobra.Command, args []string) error {
	c := settings.AdaptiveConfig{
		Enabled:            adaptiveOn,
		AutoBlock:          autoBlock,
		RateLimiting:       rateLimiting,
		TrafficShaping:     trafficShaping,
		MitigationStrategy: settings.MitigationStrategy(strategy),
	}
	if adaptiveFile != "" {
		f, err := settings.LoadFile(adaptiveFile)
		if err != nil {
			return err
		}
		if f.AdaptiveResponse == nil {
			return fmt.Errorf("%s has no adaptive_response section", adaptiveFile)
		}
		c = *f.AdaptiveResponse
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cfg, gw, err := setupGateway("adaptive")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	defer cancel()

	if err := gw.SubmitAdaptiveConfig(ctx, c); err != nil {
		return fmt.Errorf("submitting adaptive response: %w", err)
	}
	cmd.Printf("adaptive response updated: enabled=%t strategy=%s auto_block=%t rate_limiting=%t traffic_shaping=%t\n",
		c.Enabled, c.MitigationStrategy, c.AutoBlock, c.RateLimiting, c.TrafficShaping)
	return nil
}
