package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coal/ddosguard/internal/audit"
	"github.com/coal/ddosguard/internal/config"
	"github.com/coal/ddosguard/internal/dashboard"
	"github.com/coal/ddosguard/internal/gateway"
	"github.com/coal/ddosguard/internal/session"
)

var (
	listenAddr  string
	auditFile   string
	noDashboard bool
	autoStart   bool
	stopOnExit  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session controller with the live dashboard",
	Long: `Run the monitoring session controller as a long-lived process. The dashboard
under /_ddosguard/ shows the session and drives start, stop and settings.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Dashboard listen address (overrides config)")
	serveCmd.Flags().StringVar(&auditFile, "audit-log", "", "Path to audit log file (default: stderr)")
	serveCmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "Disable the dashboard")
	serveCmd.Flags().BoolVar(&autoStart, "autostart", false, "Start a monitoring session immediately")
	serveCmd.Flags().BoolVar(&stopOnExit, "stop-on-exit", true, "Stop an active session before exiting")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Dashboard.Listen = listenAddr
	}
	if auditFile != "" {
		cfg.Audit.Path = auditFile
	}
	if noDashboard {
		cfg.Dashboard.Enabled = false
	}
	logger := newLogger(cfg.Log, "ddosguard")

	auditLogger, err := openAudit(cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer auditLogger.Close()

	gw, err := gateway.New(cfg.Backend.URL, cfg.Backend.Timeout, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	machine := session.New(gw, cfg.Polling.Interval, auditLogger, logger)
	defer machine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Enabled {
		hub := dashboard.NewHub(machine, logger)
		machine.AddObserver(hub.OnEvent)
		dashboard.Run(gctx, hub)

		updates, cancel := machine.Subscribe()
		defer cancel()
		g.Go(func() error {
			hub.Follow(gctx, updates)
			return nil
		})

		srv := &http.Server{
			Addr:              cfg.Dashboard.Listen,
			Handler:           dashboard.Handler(hub),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	printBanner(cfg)

	if autoStart {
		g.Go(func() error {
			if err := machine.Start(gctx); err != nil {
				logger.Error().Err(err).Msg("autostart failed")
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info().Msg("shutting down")

	if stopOnExit && machine.Current().Active() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
		defer cancel()
		if serr := machine.Stop(stopCtx); serr != nil {
			logger.Warn().Err(serr).Msg("remote stop on exit failed")
		}
	}
	return err
}

func openAudit(cfg config.AuditConfig, logger zerolog.Logger) (*audit.Logger, error) {
	if cfg.Path == "" {
		return audit.NewStderrLogger(), nil
	}
	l, err := audit.NewFileLogger(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}
	logger.Info().Str("path", cfg.Path).Msg("audit log enabled")
	return l, nil
}

func printBanner(cfg *config.Config) {
	fmt.Fprintf(os.Stderr, "\n  ddosguard v%s\n", Version)
	fmt.Fprintf(os.Stderr, "  Backend:   %s (timeout %s)\n", cfg.Backend.URL, cfg.Backend.Timeout)
	fmt.Fprintf(os.Stderr, "  Polling:   every %s\n", cfg.Polling.Interval)
	if cfg.Dashboard.Enabled {
		addr := cfg.Dashboard.Listen
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		fmt.Fprintf(os.Stderr, "  Dashboard: http://%s%s/\n", addr, dashboard.Prefix)
	}
	fmt.Fprintln(os.Stderr)
}
