package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coal/ddosguard/internal/config"
	"github.com/coal/ddosguard/internal/simulator"
)

var (
	simListen     string
	simSeed       int64
	simBlockchain bool
	simMinRate    float64
	simMaxRate    float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated monitoring backend",
	Long: `Serve the monitoring backend HTTP API with randomly generated traffic
figures, for local testing of the controller and dashboard.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simListen, "listen", ":8000", "Address to listen on")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Random seed (0 = time based)")
	simulateCmd.Flags().BoolVar(&simBlockchain, "blockchain", false, "Report a connected blockchain ledger")
	simulateCmd.Flags().Float64Var(&simMinRate, "min-rate", 300, "Lowest simulated packets/s")
	simulateCmd.Flags().Float64Var(&simMaxRate, "max-rate", 1200, "Highest simulated packets/s")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logCfg := config.Default().Log
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger := newLogger(logCfg, "simulate")
	gin.SetMode(gin.ReleaseMode)

	sim := simulator.New(simulator.Options{
		Seed:       simSeed,
		Blockchain: simBlockchain,
		MinRate:    simMinRate,
		MaxRate:    simMaxRate,
	}, logger)

	srv := &http.Server{
		Addr:              simListen,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("simulator server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info().Str("listen", simListen).Bool("blockchain", simBlockchain).Msg("simulated backend listening")
	return g.Wait()
}
