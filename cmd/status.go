package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coal/ddosguard/internal/config"
	"github.com/coal/ddosguard/internal/gateway"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch and print one status snapshot",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the snapshot as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, gw, err := setupGateway("status")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	defer cancel()

	snap, err := gw.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	printSnapshot(out, snap)
	return nil
}

// setupGateway loads the config and builds a gateway for one-shot commands.
func setupGateway(component string) (*config.Config, *gateway.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	gw, err := gateway.New(cfg.Backend.URL, cfg.Backend.Timeout, newLogger(cfg.Log, component))
	if err != nil {
		return nil, nil, fmt.Errorf("creating gateway: %w", err)
	}
	return cfg, gw, nil
}
