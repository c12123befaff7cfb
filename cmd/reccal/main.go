package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"reccal/internal/archive"
	"reccal/internal/config"
	appLog "reccal/internal/log"
	"reccal/internal/schedule"
)

const version = "0.1.0"

// app carries what every sub-command needs once flags are parsed.
type app struct {
	configPath  string
	archivePath string
	cfg         *config.Config
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		appLog.Error("command failed", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reccal",
		Short:         "Schedule recording sessions and keep recorder clocks in sync",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", filepath.Join(config.DefaultDir(), "config.yaml"), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&a.archivePath, "archive", "", "Schedule archive (overrides config if set)")

	rootCmd.AddCommand(addCmd(a))
	rootCmd.AddCommand(repeatCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(removeCmd(a))
	rootCmd.AddCommand(removeSeriesCmd(a))
	rootCmd.AddCommand(openCmd(a))
	rootCmd.AddCommand(importCmd(a))
	rootCmd.AddCommand(exportCmd(a))
	rootCmd.AddCommand(icsCmd(a))
	rootCmd.AddCommand(drivesCmd(a))
	rootCmd.AddCommand(devicesCmd(a))
	rootCmd.AddCommand(syncCmd(a))
	rootCmd.AddCommand(timeCmd(a))
	rootCmd.AddCommand(resetCmd(a))
	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", a.configPath)
		return err
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	// CLI --archive overrides config file archive if provided.
	if a.archivePath == "" {
		a.archivePath = cfg.Archive
	}
	a.cfg = cfg

	appLog.Debug("effective config",
		"config_path", a.configPath,
		"archive", a.archivePath,
		"baud", cfg.Serial.Baud,
		"read_timeout", cfg.Serial.ReadTimeout,
		"sync_attempts", cfg.Serial.SyncAttempts,
		"drives_poll", cfg.Drives.Poll,
	)
	return nil
}

// openStore loads the working archive; a missing file is an empty schedule.
func (a *app) openStore() (*schedule.Store, error) {
	return archive.ReadFile(a.archivePath, true)
}

// mutate loads the archive, applies fn and saves only if fn succeeded.
func (a *app) mutate(fn func(s *schedule.Store) error) error {
	s, err := a.openStore()
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return archive.WriteFile(a.archivePath, s)
}
