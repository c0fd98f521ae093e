package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/strakata/trailtracker/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the TrailTracker configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	bold := color.New(color.Bold)
	fmt.Fprintln(os.Stdout)
	bold.Fprintln(os.Stdout, "Storage")
	fmt.Fprintf(os.Stdout, "  type: %s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "redis" {
		fmt.Fprintf(os.Stdout, "  redis: %s:%d\n", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	} else {
		fmt.Fprintf(os.Stdout, "  path: %s\n", cfg.Storage.Path)
	}

	bold.Fprintln(os.Stdout, "Sync")
	if cfg.Sync.Endpoint == "" {
		yellow := color.New(color.FgYellow)
		yellow.Fprintln(os.Stdout, "  endpoint: (unset, sessions stay local)")
	} else {
		fmt.Fprintf(os.Stdout, "  endpoint: %s\n", cfg.Sync.Endpoint)
		fmt.Fprintf(os.Stdout, "  auto interval: %s\n", orUnset(cfg.Sync.AutoInterval))
	}

	bold.Fprintln(os.Stdout, "Cache")
	fmt.Fprintf(os.Stdout, "  version: %s\n", cfg.Cache.Version)
	fmt.Fprintf(os.Stdout, "  critical routes: %d\n", len(cfg.Cache.CriticalRoutes))
	fmt.Fprintf(os.Stdout, "  zoom levels: %v (max %d tiles each)\n", cfg.Cache.ZoomLevels, cfg.Cache.MaxTilesPerZoom)

	bold.Fprintln(os.Stdout, "Endpoints")
	fmt.Fprintf(os.Stdout, "  control: %s:%d\n", cfg.Control.BindAddress, cfg.Control.Port)
	fmt.Fprintf(os.Stdout, "  metrics: %s:%d\n", cfg.Metrics.BindAddress, cfg.Metrics.Port)

	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
