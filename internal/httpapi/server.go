// Package httpapi provides the HTTP API for ecodexd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/szefer-piotr/eco-data-extractor/internal/extraction"
	"github.com/szefer-piotr/eco-data-extractor/internal/feedback"
	"github.com/szefer-piotr/eco-data-extractor/internal/job"
	"github.com/szefer-piotr/eco-data-extractor/internal/sentence"
)

// Server exposes extraction jobs and feedback over HTTP.
type Server struct {
	echo         *echo.Echo
	manager      *job.Manager
	orchestrator *job.Orchestrator
	store        feedback.Store
	logger       *zap.Logger
	config       *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(manager *job.Manager, orchestrator *job.Orchestrator, store feedback.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("job manager cannot be nil")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("feedback store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:         e,
		manager:      manager,
		orchestrator: orchestrator,
		store:        store,
		logger:       logger,
		config:       cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/extract", s.handleExtract)
	v1.GET("/jobs/:id", s.handleJobStatus)
	v1.POST("/jobs/:id/cancel", s.handleJobCancel)
	v1.GET("/jobs/:id/results", s.handleJobResults)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/feedback/:job_id", s.handleFeedbackList)
}

// RowInput is one text passage submitted for extraction.
type RowInput struct {
	RowID string `json:"row_id"`
	Text  string `json:"text"`
}

// ExtractRequest is the request body for POST /api/v1/extract.
type ExtractRequest struct {
	Rows       []RowInput                  `json:"rows"`
	Categories []extraction.CategorySchema `json:"categories"`
}

// ExtractResponse is the response body for POST /api/v1/extract.
type ExtractResponse struct {
	JobID string `json:"job_id"`
}

// RowResultView is one row's outcome in GET /jobs/:id/results.
type RowResultView struct {
	RowID      string                                   `json:"row_id"`
	Sentences  []sentence.Sentence                      `json:"sentences,omitempty"`
	Categories map[string]extraction.CategoryExtraction `json:"categories,omitempty"`
	Error      string                                   `json:"error,omitempty"`
}

// ResultsResponse is the response body for GET /api/v1/jobs/:id/results.
type ResultsResponse struct {
	Job     job.Snapshot    `json:"job"`
	Results []RowResultView `json:"results"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	Records []*feedback.Record `json:"records"`
}

// FeedbackResponse is the response body for POST /api/v1/feedback.
type FeedbackResponse struct {
	Accepted int `json:"accepted"`
}

// FeedbackListResponse is the response body for GET /api/v1/feedback/:job_id.
type FeedbackListResponse struct {
	JobID   string             `json:"job_id"`
	Records []*feedback.Record `json:"records"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleExtract validates the batch, creates a job, and starts the run
// in the background. The response carries only the job id; progress is
// polled via the jobs endpoints.
func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid extract request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if len(req.Rows) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "rows field is required")
	}
	if len(req.Categories) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "categories field is required")
	}
	if err := extraction.ValidateSchemas(req.Categories); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rows := make([]job.Row, len(req.Rows))
	seen := make(map[string]struct{}, len(req.Rows))
	for i, in := range req.Rows {
		if in.RowID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("rows[%d]: row_id is required", i))
		}
		if _, dup := seen[in.RowID]; dup {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("duplicate row_id %q", in.RowID))
		}
		seen[in.RowID] = struct{}{}
		rows[i] = job.Row{ID: in.RowID, Text: in.Text}
	}

	j := s.manager.Create(len(rows))

	go func() {
		// The job outlives the HTTP request; cancellation goes through
		// the cancel endpoint, not the request context.
		if err := s.orchestrator.Run(context.Background(), j, rows, req.Categories); err != nil {
			s.logger.Error("extraction run failed",
				zap.String("job_id", j.ID()), zap.Error(err))
		}
	}()

	s.logger.Info("extraction job accepted",
		zap.String("job_id", j.ID()),
		zap.Int("rows", len(rows)),
		zap.Int("categories", len(req.Categories)))

	return c.JSON(http.StatusAccepted, ExtractResponse{JobID: j.ID()})
}

// handleJobStatus returns a point-in-time job snapshot.
func (s *Server) handleJobStatus(c echo.Context) error {
	j, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, j.Snapshot())
}

// handleJobCancel requests cooperative cancellation of a running job.
func (s *Server) handleJobCancel(c echo.Context) error {
	err := s.manager.Cancel(c.Param("id"))
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	case errors.Is(err, job.ErrJobNotCancelable):
		return echo.NewHTTPError(http.StatusConflict, "job already finished")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "cancel failed")
	}
	j, getErr := s.manager.Get(c.Param("id"))
	if getErr != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, j.Snapshot())
}

// handleJobResults returns results accumulated so far, sorted by row
// id. It works on running jobs too; callers check the snapshot status
// to know whether the set is final.
func (s *Server) handleJobResults(c echo.Context) error {
	j, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}

	results := j.Results()
	views := make([]RowResultView, 0, len(results))
	for _, res := range results {
		views = append(views, RowResultView{
			RowID:      res.RowID,
			Sentences:  res.Sentences,
			Categories: res.Categories,
			Error:      res.Err,
		})
	}
	sort.Slice(views, func(i, k int) bool { return views[i].RowID < views[k].RowID })

	return c.JSON(http.StatusOK, ResultsResponse{Job: j.Snapshot(), Results: views})
}

// handleFeedback appends a batch of validation records. The batch is
// all-or-nothing: any invalid record rejects the whole request before
// anything is written.
func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Records) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "records field is required")
	}

	for i, rec := range req.Records {
		if rec == nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("records[%d]: empty record", i))
		}
		if err := rec.Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("records[%d]: %s", i, err))
		}
	}

	for _, rec := range req.Records {
		if err := s.store.Append(c.Request().Context(), rec); err != nil {
			s.logger.Error("failed to append feedback", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to store feedback")
		}
	}

	s.logger.Debug("feedback recorded", zap.Int("records", len(req.Records)))
	return c.JSON(http.StatusOK, FeedbackResponse{Accepted: len(req.Records)})
}

// handleFeedbackList returns every feedback record logged for a job,
// oldest first.
func (s *Server) handleFeedbackList(c echo.Context) error {
	jobID := c.Param("job_id")
	records, err := s.store.List(c.Request().Context(), jobID)
	if err != nil {
		s.logger.Error("failed to list feedback",
			zap.String("job_id", jobID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read feedback")
	}
	if records == nil {
		records = []*feedback.Record{}
	}
	return c.JSON(http.StatusOK, FeedbackListResponse{JobID: jobID, Records: records})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
