// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hivecore/hivecore/pkg/config"
	"github.com/hivecore/hivecore/pkg/core"
	"github.com/hivecore/hivecore/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const logo = "🐝"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s hivecore %s\n", logo, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hivecore", "config.json")
}

// withCore loads the config, opens a core and runs fn against it under a
// signal-cancelled context.
func withCore(configPath string, fn func(ctx context.Context, c *core.Core) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := core.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			logger.WarnCF("cli", "shutdown error", map[string]any{"error": err.Error()})
		}
	}()

	return fn(ctx, c)
}

func main() {
	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "hivecore",
		Short:         "AI agent orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		newRunCommand(&configPath),
		newDecomposeCommand(&configPath),
		newExecuteCommand(&configPath),
		newSwarmCommand(&configPath),
		newStatsCommand(&configPath),
		newCleanCommand(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				printVersion()
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
