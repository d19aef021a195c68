package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"backo/internal/logger"
	"backo/internal/model"
	"backo/internal/repository"
	"backo/internal/schedule"
	"backo/internal/util"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	echo       *echo.Echo
	dispatcher *Dispatcher
	jobs       *repository.JobRepository
	executions *repository.ExecutionRepository
	port       int
	stopCh     chan struct{}
}

func NewServer(dispatcher *Dispatcher, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		dispatcher: dispatcher,
		jobs:       repository.NewJobRepository(),
		executions: repository.NewExecutionRepository(),
		port:       port,
		stopCh:     make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// For the entire daemon
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)

	// For a specific job
	g := s.echo.Group("/jobs")
	g.GET("", s.handleListJobs)
	g.POST("", s.handleCreateJob)
	g.GET("/:id", s.handleGetJob)
	g.PUT("/:id", s.handleUpdateJob)
	g.DELETE("/:id", s.handleDeleteJob)
	g.POST("/:id/run", s.handleRunJob)
	g.POST("/:id/stop", s.handleStopJob)

	// Executions
	x := s.echo.Group("/executions")
	x.GET("", s.handleListExecutions)
	x.GET("/stats", s.handleExecutionStats)
	x.GET("/:id", s.handleGetExecution)
}

func (s *Server) Start() {
	go func() {
		addr := ":" + strconv.Itoa(s.port)
		logger.Log.Info("daemon server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"active":  s.dispatcher.ActiveCount(),
		"running": s.dispatcher.Snapshots(),
	})
}

func (s *Server) handleStop(c echo.Context) error {
	s.stopCh <- struct{}{}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

type jobRequest struct {
	Name            string             `json:"name"`
	SourcePath      string             `json:"source_path"`
	DestinationPath string             `json:"destination_path"`
	JobType         model.JobType      `json:"job_type"`
	ScheduleType    model.ScheduleType `json:"schedule_type"`
	ScheduleValue   string             `json:"schedule_value"`
	ScheduleTime    string             `json:"schedule_time"`
	ErrorPolicy     model.ErrorPolicy  `json:"error_policy"`
}

func (r *jobRequest) validate() error {
	if r.Name == "" || r.SourcePath == "" || r.DestinationPath == "" {
		return errors.New("name, source_path and destination_path are required")
	}
	if r.JobType != model.JobTypeFull && r.JobType != model.JobTypeIncremental {
		return errors.New("job_type must be full or incremental")
	}
	if r.ErrorPolicy != "" && r.ErrorPolicy != model.ErrorPolicyStop && r.ErrorPolicy != model.ErrorPolicySkip {
		return errors.New("error_policy must be stop or skip")
	}
	if info, err := os.Stat(r.SourcePath); err != nil || !info.IsDir() {
		return errors.New("source_path is not an accessible directory")
	}
	if _, err := os.Stat(r.DestinationPath); err == nil && !util.PathAccessible(r.DestinationPath) {
		return errors.New("destination_path is not writable")
	}

	// Malformed schedules are rejected here, never at dispatch time.
	return schedule.Validate(r.ScheduleType, r.ScheduleValue, r.ScheduleTime, time.Now())
}

func (s *Server) handleListJobs(c echo.Context) error {
	jobs, err := s.jobs.GetAll()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	snaps := make(map[uint]RunSnapshot)
	for _, snap := range s.dispatcher.Snapshots() {
		snaps[snap.JobID] = snap
	}

	return c.JSON(http.StatusOK, map[string]any{
		"jobs":    jobs,
		"running": snaps,
	})
}

func (s *Server) handleCreateJob(c echo.Context) error {
	var req jobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if req.ErrorPolicy == "" {
		req.ErrorPolicy = model.ErrorPolicySkip
	}

	job := model.Job{
		Name:            req.Name,
		SourcePath:      req.SourcePath,
		DestinationPath: req.DestinationPath,
		JobType:         req.JobType,
		ScheduleType:    req.ScheduleType,
		ScheduleValue:   req.ScheduleValue,
		ScheduleTime:    req.ScheduleTime,
		ErrorPolicy:     req.ErrorPolicy,
		Active:          true,
		NextRun:         schedule.NextRun(req.ScheduleType, req.ScheduleValue, req.ScheduleTime, time.Now()),
	}

	if err := s.jobs.Create(&job); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, job)
}

func (s *Server) handleGetJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	job, err := s.jobs.GetByID(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	return c.JSON(http.StatusOK, job)
}

type jobUpdateRequest struct {
	Name            *string             `json:"name"`
	SourcePath      *string             `json:"source_path"`
	DestinationPath *string             `json:"destination_path"`
	JobType         *model.JobType      `json:"job_type"`
	ScheduleType    *model.ScheduleType `json:"schedule_type"`
	ScheduleValue   *string             `json:"schedule_value"`
	ScheduleTime    *string             `json:"schedule_time"`
	ErrorPolicy     *model.ErrorPolicy  `json:"error_policy"`
	Active          *bool               `json:"active"`
}

func (s *Server) handleUpdateJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	job, err := s.jobs.GetByID(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	var req jobUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.SourcePath != nil {
		job.SourcePath = *req.SourcePath
	}
	if req.DestinationPath != nil {
		job.DestinationPath = *req.DestinationPath
	}
	if req.JobType != nil {
		job.JobType = *req.JobType
	}
	if req.ErrorPolicy != nil {
		job.ErrorPolicy = *req.ErrorPolicy
	}
	if req.Active != nil {
		job.Active = *req.Active
	}

	// Any schedule change revalidates and recomputes the next run.
	scheduleChanged := req.ScheduleType != nil || req.ScheduleValue != nil || req.ScheduleTime != nil
	if req.ScheduleType != nil {
		job.ScheduleType = *req.ScheduleType
	}
	if req.ScheduleValue != nil {
		job.ScheduleValue = *req.ScheduleValue
	}
	if req.ScheduleTime != nil {
		job.ScheduleTime = *req.ScheduleTime
	}

	if scheduleChanged {
		if err := schedule.Validate(job.ScheduleType, job.ScheduleValue, job.ScheduleTime, time.Now()); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		job.NextRun = schedule.NextRun(job.ScheduleType, job.ScheduleValue, job.ScheduleTime, time.Now())
	}

	if err := s.jobs.Save(&job); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleDeleteJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	_ = s.dispatcher.StopJob(id)

	if err := s.jobs.Delete(id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRunJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	execution, err := s.dispatcher.RunJobNow(id)
	if err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, execution)
}

func (s *Server) handleStopJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	if err := s.dispatcher.StopJob(id); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleListExecutions(c echo.Context) error {
	filter := repository.ExecutionFilter{Limit: 100}

	if v := c.QueryParam("job_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job_id"})
		}
		filter.JobID = uint(id)
	}
	if v := c.QueryParam("status"); v != "" {
		filter.Status = model.ExecutionStatus(v)
	}
	if v := c.QueryParam("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid days"})
		}
		filter.Since = time.Now().AddDate(0, 0, -days)
	}
	if v := c.QueryParam("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	executions, err := s.executions.List(filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, executions)
}

func (s *Server) handleGetExecution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	execution, err := s.executions.GetByID(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "execution not found"})
	}

	resp := map[string]any{
		"execution":        execution,
		"progress_percent": execution.ProgressPercent(),
		"size_percent":     execution.SizePercent(),
		"duration_seconds": execution.Duration(),
		"processed_human":  util.FormatSize(execution.ProcessedSize),
		"total_human":      util.FormatSize(execution.TotalSize),
	}

	// Coarse ETA from the run's average throughput so far. Only meaningful
	// while the run is live and has moved some bytes.
	if execution.Status == model.ExecutionRunning && execution.ProcessedSize > 0 {
		elapsed := time.Since(execution.StartTime).Seconds()
		remaining := float64(execution.TotalSize - execution.ProcessedSize)
		if elapsed > 0 && remaining > 0 {
			speed := float64(execution.ProcessedSize) / elapsed
			resp["eta_seconds"] = remaining / speed
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleExecutionStats(c echo.Context) error {
	days := 30
	if v := c.QueryParam("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid days"})
		}
		days = parsed
	}

	var jobID uint
	if v := c.QueryParam("job_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job_id"})
		}
		jobID = uint(id)
	}

	stats, err := s.executions.GetStats(time.Now().AddDate(0, 0, -days), jobID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, stats)
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return uint(id), err
}
