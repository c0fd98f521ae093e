package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/strakata/trailtracker/internal/config"
	"github.com/strakata/trailtracker/internal/readiness"
	"github.com/strakata/trailtracker/internal/tracker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Query the running daemon's control API and print tracking and cache readiness status.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	base := fmt.Sprintf("http://%s:%d", cfg.Control.BindAddress, cfg.Control.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	var status tracker.Status
	if err := getJSON(client, base+"/api/track/status", &status); err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", base, err)
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	bold.Fprintln(os.Stdout, "Tracking")
	if status.Tracking {
		green.Fprintln(os.Stdout, "  active")
	} else {
		yellow.Fprintln(os.Stdout, "  idle")
	}
	if status.Session != nil {
		s := status.Session
		fmt.Fprintf(os.Stdout, "  session: %s\n", s.ID)
		fmt.Fprintf(os.Stdout, "  distance: %.2f km\n", s.TotalDistanceKm)
		fmt.Fprintf(os.Stdout, "  elapsed: %s\n", (time.Duration(status.ElapsedSeconds) * time.Second))
		fmt.Fprintf(os.Stdout, "  positions: %d\n", len(s.Positions))
		if s.Paused {
			yellow.Fprintln(os.Stdout, "  paused")
		}
	}
	for _, advisory := range status.Advisories {
		yellow.Fprintf(os.Stdout, "  ⚠ %s\n", advisory.Message)
	}

	var progress readiness.Progress
	if err := getJSON(client, base+"/api/readiness", &progress); err != nil {
		return err
	}
	bold.Fprintln(os.Stdout, "Offline cache")
	fmt.Fprintf(os.Stdout, "  state: %s (%d%%)\n", progress.State, progress.Percent)
	if progress.TilesFetched > 0 {
		fmt.Fprintf(os.Stdout, "  tiles cached: %d\n", progress.TilesFetched)
	}

	return nil
}

func getJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
