package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"backo/internal/repository"

	"github.com/spf13/cobra"
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect backup executions",
}

var (
	execJobID  string
	execStatus string
	execDays   int
	execLimit  int
)

type executionPayload struct {
	ID             uint       `json:"ID"`
	JobID          uint       `json:"JobID"`
	Status         string     `json:"Status"`
	StartTime      time.Time  `json:"StartTime"`
	EndTime        *time.Time `json:"EndTime"`
	TotalFiles     int64      `json:"TotalFiles"`
	ProcessedFiles int64      `json:"ProcessedFiles"`
	TotalSize      int64      `json:"TotalSize"`
	ProcessedSize  int64      `json:"ProcessedSize"`
	CurrentFile    string     `json:"CurrentFile"`
	ErrorMessage   string     `json:"ErrorMessage"`
	LogFile        string     `json:"LogFile"`
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		if execJobID != "" {
			query.Set("job_id", execJobID)
		}
		if execStatus != "" {
			query.Set("status", execStatus)
		}
		if execDays > 0 {
			query.Set("days", fmt.Sprint(execDays))
		}
		if execLimit > 0 {
			query.Set("limit", fmt.Sprint(execLimit))
		}

		resp, err := http.Get(daemonURL("/executions") + "?" + query.Encode())
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var executions []executionPayload
		if err := json.NewDecoder(resp.Body).Decode(&executions); err != nil {
			return err
		}

		if len(executions) == 0 {
			fmt.Println("no executions")
			return nil
		}

		fmt.Printf("%-6s %-6s %-10s %-20s %-12s %s\n",
			"ID", "JOB", "STATUS", "STARTED", "FILES", "ERROR")
		for _, e := range executions {
			errMsg := "-"
			if e.ErrorMessage != "" {
				errMsg = e.ErrorMessage
			}

			fmt.Printf("%-6d %-6d %-10s %-20s %5d/%-6d %s\n",
				e.ID, e.JobID, e.Status,
				e.StartTime.Format("2006-01-02 15:04:05"),
				e.ProcessedFiles, e.TotalFiles, errMsg)
		}

		return nil
	},
}

var executionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one execution with progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/executions/" + args[0]))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("execution %s not found", args[0])
		}

		var result struct {
			Execution       executionPayload `json:"execution"`
			ProgressPercent float64          `json:"progress_percent"`
			SizePercent     float64          `json:"size_percent"`
			DurationSeconds float64          `json:"duration_seconds"`
			ProcessedHuman  string           `json:"processed_human"`
			TotalHuman      string           `json:"total_human"`
			ETASeconds      *float64         `json:"eta_seconds"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return err
		}

		e := result.Execution
		fmt.Printf("execution %d (job %d): %s\n", e.ID, e.JobID, e.Status)
		fmt.Printf("  started:  %s\n", e.StartTime.Format("2006-01-02 15:04:05"))
		if e.EndTime != nil {
			fmt.Printf("  ended:    %s (%.1fs)\n", e.EndTime.Format("2006-01-02 15:04:05"), result.DurationSeconds)
		}
		fmt.Printf("  files:    %d/%d (%.1f%%)\n", e.ProcessedFiles, e.TotalFiles, result.ProgressPercent)
		fmt.Printf("  size:     %s/%s (%.1f%%)\n", result.ProcessedHuman, result.TotalHuman, result.SizePercent)
		if e.CurrentFile != "" {
			fmt.Printf("  current:  %s\n", e.CurrentFile)
		}
		if result.ETASeconds != nil {
			fmt.Printf("  eta:      %s\n", time.Duration(*result.ETASeconds*float64(time.Second)).Round(time.Second))
		}
		if e.ErrorMessage != "" {
			fmt.Printf("  error:    %s\n", e.ErrorMessage)
		}
		if e.LogFile != "" {
			fmt.Printf("  log:      %s\n", e.LogFile)
		}

		return nil
	},
}

var executionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate execution statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		if execJobID != "" {
			query.Set("job_id", execJobID)
		}
		if execDays > 0 {
			query.Set("days", fmt.Sprint(execDays))
		}

		resp, err := http.Get(daemonURL("/executions/stats") + "?" + query.Encode())
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var stats repository.Stats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return err
		}

		fmt.Printf("executions: %d (completed %d, failed %d, stopped %d)\n",
			stats.Total, stats.Completed, stats.Failed, stats.Stopped)
		fmt.Printf("success rate: %.1f%%\n", stats.SuccessRate)
		fmt.Printf("files processed: %d\n", stats.FilesProcessed)
		fmt.Printf("bytes processed: %d\n", stats.SizeProcessed)
		fmt.Printf("avg duration: %.1fs\n", stats.AvgDuration)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{executionsListCmd, executionsStatsCmd} {
		c.Flags().StringVar(&execJobID, "job", "", "filter by job id")
		c.Flags().IntVar(&execDays, "days", 0, "only the last N days")
	}
	executionsListCmd.Flags().StringVar(&execStatus, "status", "", "filter by status")
	executionsListCmd.Flags().IntVar(&execLimit, "n", 0, "max entries to show")

	executionsCmd.AddCommand(executionsListCmd, executionsShowCmd, executionsStatsCmd)
	rootCmd.AddCommand(executionsCmd)
}
