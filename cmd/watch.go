package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coal/ddosguard/internal/audit"
	"github.com/coal/ddosguard/internal/gateway"
	"github.com/coal/ddosguard/internal/session"
)

var watchLeaveRunning bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start a monitoring session and print every status update",
	Long: `Start a monitoring session and print one line per session update until
interrupted. The session is stopped on exit unless --leave-running is set.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchLeaveRunning, "leave-running", false, "Do not stop the remote session on exit")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, "watch")

	gw, err := gateway.New(cfg.Backend.URL, cfg.Backend.Timeout, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	machine := session.New(gw, cfg.Polling.Interval, audit.NopLogger(), logger)
	defer machine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates, cancel := machine.Subscribe()
	defer cancel()

	if err := machine.Start(ctx); err != nil {
		return fmt.Errorf("starting monitoring: %w", err)
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			if watchLeaveRunning {
				return nil
			}
			stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
			defer cancelStop()
			if err := machine.Stop(stopCtx); err != nil {
				return fmt.Errorf("stopping monitoring: %w", err)
			}
			fmt.Fprintln(out, stateLine(machine.Current()))
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, stateLine(st))
		}
	}
}
