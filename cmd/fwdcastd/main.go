// Command fwdcastd runs the fwdcast Relay: the public-facing process that
// accepts Origin registrations over WebSocket and bridges viewer HTTP
// requests to them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fwdcast/fwdcast/internal/config"
	"github.com/fwdcast/fwdcast/internal/logging"
	"github.com/fwdcast/fwdcast/internal/relayhttp"
	"github.com/fwdcast/fwdcast/internal/relaystore"
	"github.com/fwdcast/fwdcast/internal/relayws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "fwdcastd",
		Short: "fwdcast relay server",
		RunE:  run,
	}

	root.Flags().String("addr", "", "listen address, overrides FWDCAST_ADDR")
	root.Flags().String("public-base", "", "public URL base for share links, overrides FWDCAST_PUBLIC_BASE")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.LoadRelayConfig()
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Addr = v
	}
	if v, _ := cmd.Flags().GetString("public-base"); v != "" {
		cfg.PublicBase = v
	}
	if cfg.PublicBase == "" && cfg.ListenHost != "" {
		cfg.PublicBase = "http://" + cfg.ListenHost
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	store := relaystore.New(cfg.PublicBase, log)

	wsHandler := relayws.New(store, log)
	wsHandler.MaxDuration = cfg.MaxSessionDuration

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	viewerHandler := relayhttp.New(ctx, store, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", wsHandler.ServeOriginWS)
	mux.Handle("/", viewerHandler)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	store.StartSweeper(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("fwdcastd listening", "addr", cfg.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
