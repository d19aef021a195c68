package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backo/internal/daemon"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/status"))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var result struct {
			Active  int                  `json:"active"`
			Running []daemon.RunSnapshot `json:"running"`
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		if result.Active == 0 {
			fmt.Println("no active executions")
			return nil
		}

		fmt.Printf("%-6s %-10s %s\n", "JOB", "EXECUTION", "RUNNING FOR")
		for _, snap := range result.Running {
			fmt.Printf("%-6d %-10d %s\n",
				snap.JobID, snap.ExecutionID,
				time.Since(snap.StartedAt).Round(time.Second))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
