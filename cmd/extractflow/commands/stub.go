package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/stubapi"
)

const stubShutdownTimeout = 5 * time.Second

var stubPort int

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Serve an in-memory stand-in for the processing API",
	Long: `Serve the four processing API routes from memory for local testing.
Point remote.base_url at the printed address to use it.

The stub expects the bearer token from EXTRACTFLOW_STUB_TOKEN, falling back to
EXTRACTFLOW_API_TOKEN.`,
	RunE: runStub,
}

func init() {
	stubCmd.Flags().IntVarP(&stubPort, "port", "p", 0, "listen port (default from config)")
	rootCmd.AddCommand(stubCmd)
}

func runStub(cmd *cobra.Command, args []string) error {
	token := appCfg.StubToken()
	if token == "" {
		return fmt.Errorf("set EXTRACTFLOW_STUB_TOKEN or EXTRACTFLOW_API_TOKEN before starting the stub")
	}

	port := appCfg.Stub.Port
	if stubPort > 0 {
		port = stubPort
	}
	addr := fmt.Sprintf("%s:%d", appCfg.Stub.Host, port)
	log := logger.WithOperation("stub")

	srv := &http.Server{
		Addr:              addr,
		Handler:           stubapi.New(stubapi.Options{Token: token, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("stub listening")
		serverErrors <- srv.ListenAndServe()
	}()
	out.Success("Stub API listening on http://%s", addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("stub server: %w", err)
		}
		return nil
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), stubShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("forced shutdown failed")
		}
	}
	log.Info().Msg("stub stopped")
	return nil
}
