package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage backup jobs",
}

var (
	jobName     string
	jobSrc      string
	jobDst      string
	jobType     string
	jobSchedule string
	jobValue    string
	jobAt       string
	jobOnError  string
)

type jobPayload struct {
	ID              uint       `json:"ID"`
	Name            string     `json:"Name"`
	SourcePath      string     `json:"SourcePath"`
	DestinationPath string     `json:"DestinationPath"`
	JobType         string     `json:"JobType"`
	ScheduleType    string     `json:"ScheduleType"`
	ScheduleValue   string     `json:"ScheduleValue"`
	ScheduleTime    string     `json:"ScheduleTime"`
	ErrorPolicy     string     `json:"ErrorPolicy"`
	Active          bool       `json:"Active"`
	LastRun         *time.Time `json:"LastRun"`
	NextRun         *time.Time `json:"NextRun"`
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/jobs"))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var result struct {
			Jobs    []jobPayload `json:"jobs"`
			Running map[string]struct {
				ExecutionID uint `json:"execution_id"`
			} `json:"running"`
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return err
		}

		if len(result.Jobs) == 0 {
			fmt.Println("no jobs configured")
			return nil
		}

		fmt.Printf("%-4s %-16s %-12s %-10s %-8s %-20s %s\n",
			"ID", "NAME", "TYPE", "SCHEDULE", "ACTIVE", "NEXT RUN", "STATE")
		for _, j := range result.Jobs {
			nextRun := "-"
			if j.NextRun != nil {
				nextRun = j.NextRun.Format("2006-01-02 15:04")
			}

			state := "idle"
			if _, ok := result.Running[fmt.Sprint(j.ID)]; ok {
				state = "running"
			}

			fmt.Printf("%-4d %-16s %-12s %-10s %-8t %-20s %s\n",
				j.ID, j.Name, j.JobType, j.ScheduleType, j.Active, nextRun, state)
		}

		return nil
	},
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new job",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobType == "" {
			jobType = "incremental"
		}

		body, _ := json.Marshal(map[string]string{
			"name":             jobName,
			"source_path":      jobSrc,
			"destination_path": jobDst,
			"job_type":         jobType,
			"schedule_type":    jobSchedule,
			"schedule_value":   jobValue,
			"schedule_time":    jobAt,
			"error_policy":     jobOnError,
		})

		resp, err := http.Post(daemonURL("/jobs"), "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusCreated {
			var result map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&result)
			return fmt.Errorf("job rejected: %s", result["error"])
		}

		var job jobPayload
		_ = json.NewDecoder(resp.Body).Decode(&job)
		fmt.Printf("job added: id=%d name=%s\n", job.ID, job.Name)
		return nil
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, _ := http.NewRequest(http.MethodDelete, daemonURL("/jobs/"+args[0]), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		fmt.Printf("job %s removed\n", args[0])
		return nil
	},
}

var jobRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Run a job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(daemonURL("/jobs/"+args[0]+"/run"), "application/json", nil)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusCreated {
			var result map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&result)
			return fmt.Errorf("run rejected: %s", result["error"])
		}

		var execution struct {
			ID uint `json:"ID"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&execution)
		fmt.Printf("job %s started, execution=%d\n", args[0], execution.ID)
		return nil
	},
}

var jobStopCmd = &cobra.Command{
	Use:   "stop [id]",
	Short: "Stop a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(daemonURL("/jobs/"+args[0]+"/stop"), "application/json", nil)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusOK {
			var result map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&result)
			return fmt.Errorf("stop rejected: %s", result["error"])
		}

		fmt.Printf("job %s stopped\n", args[0])
		return nil
	},
}

var jobEditCmd = &cobra.Command{
	Use:   "edit [id]",
	Short: "Edit a job (only the flags given are changed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := make(map[string]any)
		set := map[string]*string{
			"name":             &jobName,
			"source_path":      &jobSrc,
			"destination_path": &jobDst,
			"job_type":         &jobType,
			"schedule_type":    &jobSchedule,
			"schedule_value":   &jobValue,
			"schedule_time":    &jobAt,
			"error_policy":     &jobOnError,
		}
		for key, value := range set {
			if *value != "" {
				fields[key] = *value
			}
		}

		if len(fields) == 0 {
			return fmt.Errorf("nothing to change, pass at least one flag")
		}

		body, _ := json.Marshal(fields)
		req, _ := http.NewRequest(http.MethodPut, daemonURL("/jobs/"+args[0]), bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusOK {
			var result map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&result)
			return fmt.Errorf("edit rejected: %s", result["error"])
		}

		fmt.Printf("job %s updated\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{jobAddCmd, jobEditCmd} {
		c.Flags().StringVar(&jobName, "name", "", "job name")
		c.Flags().StringVar(&jobSrc, "src", "", "source directory")
		c.Flags().StringVar(&jobDst, "dst", "", "destination directory")
		c.Flags().StringVar(&jobType, "type", "", "backup type (full|incremental)")
		c.Flags().StringVar(&jobSchedule, "schedule", "", "schedule type (once|daily|monthly)")
		c.Flags().StringVar(&jobValue, "value", "", "schedule value (weekdays, day of month or date)")
		c.Flags().StringVar(&jobAt, "at", "", "time of day HH:MM")
		c.Flags().StringVar(&jobOnError, "on-error", "", "per-file error policy (stop|skip)")
	}

	jobCmd.AddCommand(jobListCmd, jobAddCmd, jobEditCmd, jobRemoveCmd, jobRunCmd, jobStopCmd)
	rootCmd.AddCommand(jobCmd)
}
