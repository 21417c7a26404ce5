// Command fwdcast is the Origin CLI: it shares a local directory through a
// fwdcast Relay and prints the resulting share URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fwdcast/fwdcast/internal/config"
	"github.com/fwdcast/fwdcast/internal/logging"
	"github.com/fwdcast/fwdcast/internal/origin"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "fwdcast",
		Short: "Share a directory through a fwdcast relay",
	}

	root.AddCommand(shareCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func shareCmd() *cobra.Command {
	cfg := config.DefaultOriginConfig()

	cmd := &cobra.Command{
		Use:   "share [dir]",
		Short: "Share a directory until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runShare,
	}
	cmd.Flags().String("relay", cfg.RelayURL, "relay WebSocket URL, overrides FWDCAST_RELAY")
	cmd.Flags().Duration("duration", cfg.Duration, "how long the share stays open, overrides FWDCAST_DURATION")
	cmd.Flags().String("password", cfg.Password, "optional share password, overrides FWDCAST_PASSWORD")
	cmd.Flags().StringSlice("exclude", nil, "glob pattern to exclude from listings (repeatable)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fwdcast version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runShare(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultOriginConfig()

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}
	cfg.Dir = abs

	if v, _ := cmd.Flags().GetString("relay"); v != "" {
		cfg.RelayURL = v
	}
	if v, _ := cmd.Flags().GetDuration("duration"); v > 0 {
		cfg.Duration = v
	}
	if v, _ := cmd.Flags().GetString("password"); v != "" {
		cfg.Password = v
	}
	if v, _ := cmd.Flags().GetStringSlice("exclude"); len(v) > 0 {
		cfg.Exclude = v
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	obs := origin.Observer{
		OnURL: func(url string) {
			fmt.Printf("sharing %s\n", cfg.Dir)
			fmt.Printf("  %s\n", url)
			if cfg.Password != "" {
				fmt.Println("  password protected")
			}
		},
		OnStats: func(s origin.TransferStats) {
			log.Debug("transfer stats", "bytes_sent", s.BytesSent, "active_requests", s.ActiveRequests)
		},
		OnExpired: func() {
			fmt.Println("share expired")
		},
		OnDisconnect: func(err error) {
			if err != nil {
				log.Warn("disconnected from relay", "err", err)
			}
		},
		OnError: func(err error) {
			log.Warn("origin error", "err", err)
		},
	}

	agent := origin.New(cfg.RelayURL, cfg.Dir, cfg.Duration, cfg.Password, cfg.Exclude, obs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("share ended: %w", err)
	}
	return nil
}
